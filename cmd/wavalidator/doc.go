// Package main hosts the wavalidator entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes run control (/start, /stop), /status, health probes, /metrics, the
//     /events server-sent event stream and the embedded operator UI. Start requests are validated and handed to the
//     runner; setup failures map to 409/400 responses.
//   - Runner: internal/runner.Runner owns the single run slot. Numbers are normalized by internal/phone, then checked
//     one at a time: the WhatsApp Web session first (internal/session/browser, driven by Chromedp), and the
//     click-to-chat probe (internal/prober/clicktochat, Colly) when the session cannot confirm an account.
//   - Events: the runner and the session emit typed events into the progress Hub, which batches them to the
//     Broadcaster (push subscribers), a zap log sink and a Prometheus sink.
//   - Persistence & fanout: each finished run is written as runs/run_<uuidv7>.json to the configured BlobStore
//     (local/memory/GCS); the first probe bodies of a run are kept under runs/snapshots. Finished runs are optionally
//     recorded in Postgres and announced on Pub/Sub.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Cobra
//     provides the serve and check commands.
//
// Operational notes:
//   - Only one process may use a browser profile; serve takes a file lock next to session.user_data_dir.
//   - Items are processed strictly in sequence with a short pause between them. Stop takes effect after the item in
//     flight, and the partial report is still written.
//   - The process reacts to SIGINT/SIGTERM by aborting the active run, writing its report and draining the server.
//
// Quick checklist:
//   - Configure env vars: WAV_SERVER_PORT or PORT, WAV_SESSION_USER_DATA_DIR, WAV_SESSION_HEADLESS,
//     WAV_STORAGE_BACKEND, WAV_STORAGE_BASE_DIR or WAV_STORAGE_GCS_BUCKET, WAV_DB_DSN, WAV_PUBSUB_PROJECT_ID and
//     WAV_PUBSUB_TOPIC_NAME as needed.
//   - Run locally: go run ./cmd/wavalidator serve --config config.yaml, open http://localhost:3000 and scan the QR.
//   - One-off batch: go run ./cmd/wavalidator check numbers.txt (add --browser to use a logged-in session).
package main

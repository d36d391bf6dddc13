// Package browser drives an authenticated WhatsApp Web session through
// chromedp. It watches the page for login codes and readiness, publishes
// those transitions as progress events, and answers membership lookups by
// opening the send page for a number.
package browser

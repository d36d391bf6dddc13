// Package clicktochat implements the fallback membership probe against the
// public click-to-chat redirect page. It fetches the page with Colly and
// classifies the body with phrase lists and a structural heuristic.
package clicktochat

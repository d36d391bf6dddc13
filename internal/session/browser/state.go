package browser

import (
	"strings"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// pageStateScript reports what the main page is showing: the chat list once
// logged in, the login QR canvas otherwise.
const pageStateScript = `(() => {
  if (document.querySelector('#pane-side')) return 'ready';
  const canvas = document.querySelector('div[data-ref] canvas') || document.querySelector('canvas[aria-label]');
  if (canvas) {
    try { return 'qr:' + canvas.toDataURL('image/png'); } catch (e) { return 'loading'; }
  }
  return 'loading';
})()`

// lookupStateScript inspects the send page: a compose box means the chat
// opened, a modal popup means the number was rejected.
const lookupStateScript = `(() => {
  if (document.querySelector('footer div[contenteditable="true"]')) return 'found';
  const popup = document.querySelector('div[data-animate-modal-popup="true"]');
  if (popup) {
    const text = (popup.innerText || '').toLowerCase();
    if (text.includes('inválido') || text.includes('invalido') || text.includes('invalid')) return 'not_found';
  }
  return 'pending';
})()`

type pageKind int

const (
	pageLoading pageKind = iota
	pageLogin
	pageReady
)

type pageState struct {
	kind     pageKind
	artifact string
}

func parsePageState(raw string) pageState {
	switch {
	case raw == "ready":
		return pageState{kind: pageReady}
	case strings.HasPrefix(raw, "qr:"):
		artifact := strings.TrimPrefix(raw, "qr:")
		if !strings.HasPrefix(artifact, "data:image/") {
			return pageState{kind: pageLoading}
		}
		return pageState{kind: pageLogin, artifact: artifact}
	default:
		return pageState{kind: pageLoading}
	}
}

// parseLookupState returns the outcome once the send page settled.
func parseLookupState(raw string) (verify.Outcome, bool) {
	switch raw {
	case "found":
		return verify.OutcomeFound, true
	case "not_found":
		return verify.OutcomeNotFound, true
	default:
		return verify.OutcomeIndeterminate, false
	}
}

func lookupURL(base string, id verify.Identifier) string {
	return strings.TrimRight(base, "/") + "/send?phone=" + id.String()
}

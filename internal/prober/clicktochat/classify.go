package clicktochat

import (
	"regexp"
	"strings"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// negativePhrases mark a page telling the visitor the number has no account.
// They win over every positive signal.
var negativePhrases = []string{
	"não está no whatsapp",
	"nao está no whatsapp",
	"nao esta no whatsapp",
	"não esta no whatsapp",
	"o número de telefone que você digitou não está usando o whatsapp",
	"número de telefone compartilhado por url é inválido",
	"numero de telefone compartilhado por url é inválido",
	"phone number shared via url is invalid",
	"not on whatsapp",
}

var positivePhrases = []string{
	"continuar para a conversa",
	"continuar para o chat",
	"continue to chat",
	"use whatsapp to chat",
	"conversar no whatsapp",
	"abrir whatsapp",
	"open whatsapp",
	"wa.me/",
}

// sendLinkPattern matches a form or link pointing at /send. The page markup
// changes over time, so a match is a weak positive.
var sendLinkPattern = regexp.MustCompile(`(?i)<form[^>]+action="/send|href="/send`)

// Classify maps a click-to-chat page body to an outcome. It never returns
// OutcomeError.
func Classify(body []byte) verify.Outcome {
	lc := strings.ToLower(string(body))
	for _, phrase := range negativePhrases {
		if strings.Contains(lc, phrase) {
			return verify.OutcomeNotFound
		}
	}
	for _, phrase := range positivePhrases {
		if strings.Contains(lc, phrase) {
			return verify.OutcomeFound
		}
	}
	if sendLinkPattern.Match(body) {
		return verify.OutcomeFound
	}
	return verify.OutcomeIndeterminate
}

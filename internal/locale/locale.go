// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_locale

import (
	"strings"
)

// DefaultLanguage is used when the caller's number carries no recognised
// country prefix.
const DefaultLanguage = "en"

// Table is the immutable per-process localisation data: language detection,
// greetings, transcript corrections, affirmative and closing phrases.
// Loaded once at start, never mutated afterwards.
type Table struct {
	languageByPrefix map[string]string
	greetings        map[string]string
	noReplyPrompts   map[string]string
	exactCorrections map[string]string
	patternFixes     []PatternFix
	affirmatives     map[string][]string
	closingPhrases   map[string][]string
}

// PatternFix rewrites a known mis-transcription wherever it appears inside a
// line. Applied after the exact-match dictionary.
type PatternFix struct {
	Match       string
	Replacement string
}

// NewDefaultTable returns the built-in localisation table. The dialling
// prefixes cover the markets the service operates in; everything else falls
// back to English.
func NewDefaultTable() *Table {
	return &Table{
		languageByPrefix: map[string]string{
			"31":  "nl",
			"32":  "nl", // Belgium: Flemish default, model switches on its own
			"49":  "de",
			"43":  "de",
			"33":  "fr",
			"34":  "es",
			"39":  "it",
			"351": "pt",
			"44":  "en",
			"353": "en",
			"1":   "en",
		},
		greetings: map[string]string{
			"en": "Greet the caller warmly in English, introduce yourself as the taxi booking assistant and ask where they would like to be picked up.",
			"nl": "Begroet de beller hartelijk in het Nederlands, stel jezelf voor als de taxi-assistent en vraag waar ze opgehaald willen worden.",
			"de": "Begrüße den Anrufer herzlich auf Deutsch, stelle dich als Taxi-Assistent vor und frage, wo er abgeholt werden möchte.",
			"fr": "Accueillez chaleureusement l'appelant en français, présentez-vous comme l'assistant taxi et demandez où il souhaite être pris en charge.",
			"es": "Saluda calurosamente en español, preséntate como el asistente de taxi y pregunta dónde quiere que le recojan.",
			"it": "Saluta calorosamente in italiano, presentati come l'assistente taxi e chiedi dove desidera essere prelevato.",
			"pt": "Cumprimente calorosamente em português, apresente-se como o assistente de táxi e pergunte onde deseja ser apanhado.",
		},
		noReplyPrompts: map[string]string{
			"en": "The caller has been silent for a while. Gently ask if they are still there and whether they want to continue the booking.",
			"nl": "De beller is al even stil. Vraag vriendelijk of ze er nog zijn en of ze verder willen met de boeking.",
			"de": "Der Anrufer ist seit einer Weile still. Frage freundlich, ob er noch da ist und die Buchung fortsetzen möchte.",
			"fr": "L'appelant est silencieux depuis un moment. Demandez gentiment s'il est toujours là et s'il souhaite poursuivre la réservation.",
		},
		exactCorrections: map[string]string{
			"yup":       "yes",
			"yeah yeah": "yes",
			"ok bye":    "okay, goodbye",
			"no thanks": "no thank you",
		},
		patternFixes: []PatternFix{
			{Match: "david road", Replacement: "davis road"},
			{Match: "heather view", Replacement: "heatherview"},
			{Match: "steeple chase", Replacement: "steeplechase"},
		},
		affirmatives: map[string][]string{
			"en": {"yes", "yeah", "yep", "yup", "correct", "that's right", "confirm", "go ahead", "please do"},
			"nl": {"ja", "jazeker", "klopt", "dat klopt", "akkoord", "prima", "doe maar"},
			"de": {"ja", "genau", "richtig", "stimmt", "in ordnung"},
			"fr": {"oui", "exact", "c'est ça", "d'accord"},
			"es": {"sí", "si", "correcto", "vale", "de acuerdo"},
			"it": {"sì", "si", "esatto", "va bene"},
			"pt": {"sim", "exato", "está certo"},
		},
		closingPhrases: map[string][]string{
			"en": {"goodbye", "have a great day", "have a nice day", "bye for now"},
			"nl": {"tot ziens", "fijne dag", "prettige dag", "dag"},
			"de": {"auf wiedersehen", "schönen tag", "tschüss"},
			"fr": {"au revoir", "bonne journée"},
			"es": {"adiós", "que tenga un buen día"},
			"it": {"arrivederci", "buona giornata"},
			"pt": {"adeus", "tenha um bom dia"},
		},
	}
}

// DetectLanguage maps a phone-like caller identifier to a language code via
// its international dialling prefix. Longest prefix wins; unknown or
// malformed numbers fall back to DefaultLanguage.
func (t *Table) DetectLanguage(callerID string) string {
	digits := strings.TrimPrefix(strings.TrimSpace(callerID), "+")
	digits = strings.TrimPrefix(digits, "00")
	if digits == "" {
		return DefaultLanguage
	}
	for l := 3; l >= 1; l-- {
		if len(digits) < l {
			continue
		}
		if lang, ok := t.languageByPrefix[digits[:l]]; ok {
			return lang
		}
	}
	return DefaultLanguage
}

// Greeting returns the localized greeting instructions for a language code.
func (t *Table) Greeting(lang string) string {
	if g, ok := t.greetings[lang]; ok {
		return g
	}
	return t.greetings[DefaultLanguage]
}

// NoReplyPrompt returns the localized silence-reprompt instructions.
func (t *Table) NoReplyPrompt(lang string) string {
	if p, ok := t.noReplyPrompts[lang]; ok {
		return p
	}
	return t.noReplyPrompts[DefaultLanguage]
}

// CorrectTranscript applies the deterministic transcript fixes: the
// exact-match dictionary first, then the substring patterns. Matching is
// case-insensitive and ignores trailing sentence punctuation ("Yup." hits
// the "yup" entry); replacements keep the rest of the line untouched.
func (t *Table) CorrectTranscript(text string) string {
	trimmed := strings.TrimSpace(text)
	if fixed, ok := t.exactCorrections[strings.ToLower(strings.TrimRight(trimmed, ".!?,;: "))]; ok {
		return fixed
	}
	out := trimmed
	for _, fix := range t.patternFixes {
		out = replaceFold(out, fix.Match, fix.Replacement)
	}
	return out
}

// IsAffirmative reports whether the line is a bare confirmation in the given
// language (English phrases are always accepted as a fallback).
func (t *Table) IsAffirmative(lang, text string) bool {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!?, "))
	if normalized == "" {
		return false
	}
	for _, phrase := range t.affirmatives[lang] {
		if normalized == phrase || strings.HasPrefix(normalized, phrase+" ") || strings.HasPrefix(normalized, phrase+",") {
			return true
		}
	}
	if lang != DefaultLanguage {
		for _, phrase := range t.affirmatives[DefaultLanguage] {
			if normalized == phrase {
				return true
			}
		}
	}
	return false
}

// ContainsClosingPhrase reports whether an AI transcript line contains a
// goodbye phrase for the given language (or the English fallback).
func (t *Table) ContainsClosingPhrase(lang, text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range t.closingPhrases[lang] {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	if lang != DefaultLanguage {
		for _, phrase := range t.closingPhrases[DefaultLanguage] {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	}
	return false
}

// replaceFold is a case-insensitive strings.ReplaceAll that preserves the
// unmatched portions of s verbatim.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	lower := strings.ToLower(s)
	oldLower := strings.ToLower(old)
	for {
		i := strings.Index(lower, oldLower)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s = s[i+len(old):]
		lower = lower[i+len(oldLower):]
	}
}

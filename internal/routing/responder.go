package routing

import (
	"encoding/json"
	"html"
	"net/http"
	"strings"
)

type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id"`
	Meta    ErrorEnvelopeMeta `json:"meta"`
}

type ErrorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func WriteError(w http.ResponseWriter, r *http.Request, rc RouteClass, status int, code string, message string) {
	message = normalizeErrorMessage(code, message)
	if rc.JSONOnly() || wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(ErrorEnvelope{
			Code:    code,
			Message: message,
			TraceID: traceIDFromRequest(r),
			Meta: ErrorEnvelopeMeta{
				Path:   r.URL.Path,
				Method: r.Method,
			},
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("<!doctype html><html><body>"))
	_, _ = w.Write([]byte(html.EscapeString(message)))
	_, _ = w.Write([]byte("</body></html>"))
}

// normalizeErrorMessage replaces placeholder messages ("create failed",
// the code itself) with something a person can act on.
func normalizeErrorMessage(code string, message string) string {
	message = strings.TrimSpace(message)
	if !isGenericErrorMessage(code, message) {
		return message
	}
	if known := knownErrorMessage(code); known != "" {
		return known
	}
	return humanizeErrorCode(code)
}

func isGenericErrorMessage(code string, message string) bool {
	if message == "" || strings.EqualFold(message, code) || message == "internal_error" {
		return true
	}
	lower := strings.ToLower(message)
	if !strings.Contains(lower, " ") && strings.Contains(lower, "_") {
		return strings.HasSuffix(lower, "_failed") || strings.HasSuffix(lower, "_error")
	}
	words := strings.Fields(lower)
	if len(words) > 3 {
		return false
	}
	last := words[len(words)-1]
	return last == "failed" || last == "error"
}

var knownErrorMessages = map[string]string{
	"forbidden":          "You do not have permission to perform this operation.",
	"unauthorized":       "Sign in to continue.",
	"not_found":          "The requested resource does not exist.",
	"method_not_allowed": "This operation is not supported here.",
	"bad_json":           "The request body is not valid JSON.",
	"bad_form":           "The submitted form could not be read.",

	"CF_FIELD_NOT_FOUND":               "The custom field does not exist.",
	"CF_FIELD_NAME_CONFLICT":           "A custom field with this name already exists.",
	"CF_FIELD_TYPE_UNKNOWN":            "The field type is not available.",
	"CF_FIELD_NOT_OPTION_BACKED":       "This field type does not support options.",
	"CF_CONTEXT_NOT_FOUND":             "The field context does not exist.",
	"CF_CONTEXT_SCOPE_CONFLICT":        "Another context already covers this project and issue type.",
	"CF_GLOBAL_CONTEXT_REQUIRED":       "The last global context of a field cannot be removed.",
	"CF_OPTION_NOT_FOUND":              "The option does not exist.",
	"CF_OPTION_VALUE_CONFLICT":         "An option with this value already exists.",
	"CF_OPTION_ORDER_INVALID":          "The option order does not match the current options.",
	"CF_VALIDATION_EXPR_INVALID":       "The validation expression does not compile.",
	"ITS_SCHEME_NOT_FOUND":             "The issue type scheme does not exist.",
	"ITS_SCHEME_NAME_CONFLICT":         "An issue type scheme with this name already exists.",
	"ITS_ISSUE_TYPE_NOT_FOUND":         "The issue type does not exist.",
	"ITS_ISSUE_TYPE_NAME_CONFLICT":     "An issue type with this name already exists.",
	"ITS_DEFAULT_SCHEME_UNDELETABLE":   "The default issue type scheme cannot be deleted.",
	"ITS_DEFAULT_NOT_IN_OPTIONS":       "The default issue type must be one of the scheme's issue types.",
	"ITS_MIGRATION_REQUIRED":           "Existing issues must be migrated before this change.",
	"ITS_MIGRATION_NOT_FOUND":          "The migration does not exist or has expired.",
	"ITS_MIGRATION_INVALID_TRANSITION": "The migration is not at a step that allows this action.",
}

func knownErrorMessage(code string) string {
	return knownErrorMessages[code]
}

func humanizeErrorCode(code string) string {
	words := strings.FieldsFunc(strings.ToLower(code), func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(words) == 0 {
		return "Request failed."
	}
	if len(words) == 1 && (words[0] == "failed" || words[0] == "error") {
		return "Request " + words[0] + "."
	}
	return titleCaseWords(words) + "."
}

var upperWords = map[string]bool{
	"api": true, "db": true, "uuid": true, "rls": true, "id": true,
	"url": true, "json": true, "cel": true,
}

func titleCaseWords(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		switch {
		case upperWords[w]:
			out[i] = strings.ToUpper(w)
		case i == 0:
			out[i] = capitalizeWord(w)
		default:
			out[i] = w
		}
	}
	return strings.Join(out, " ")
}

func capitalizeWord(w string) string {
	if w == "" {
		return ""
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

func wantsJSON(r *http.Request) bool {
	return r.Header.Get("Accept") == "application/json" || r.Header.Get("Accept") == "application/json; charset=utf-8"
}

func traceIDFromRequest(r *http.Request) string {
	traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
	if traceparent == "" {
		return ""
	}
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(parts[1])
	if len(traceID) != 32 || traceID == "00000000000000000000000000000000" {
		return ""
	}
	for _, ch := range traceID {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return traceID
}

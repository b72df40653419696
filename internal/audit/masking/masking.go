package masking

import "strings"

const redacted = "****"

// sensitiveSuffixes match keys such as "razorpay_signature", "key_secret" or
// "invitation_token" after lowercasing.
var sensitiveSuffixes = []string{"signature", "secret", "token", "password", "authorization"}

// MaskSecret hides a secret but keeps an id-style prefix ("rzp_", "whsec_")
// and the last four characters when the value is long enough to spare them.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var prefix string
	if i := strings.LastIndexByte(value, '_'); i >= 0 && i < len(value)-1 {
		prefix, value = value[:i+1], value[i+1:]
	}
	if len(value) <= 4 {
		return prefix + redacted
	}
	return prefix + redacted + value[len(value)-4:]
}

// MaskSensitive copies metadata, masking every value stored under a
// sensitive key at any depth. Blank keys are dropped.
func MaskSensitive(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if isSensitive(key) {
			out[key] = redact(value)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[key] = MaskSensitive(nested)
			continue
		}
		out[key] = value
	}
	return out
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

func redact(value any) any {
	switch v := value.(type) {
	case string:
		return MaskSecret(v)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = redact(v[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = redact(inner)
		}
		return out
	case nil:
		return nil
	default:
		return redacted
	}
}

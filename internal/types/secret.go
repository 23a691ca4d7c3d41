package types

const redactedSecret = "[redacted]"

// Secret holds a credential that must never be printed, logged or serialized.
// Only Reveal exposes the underlying value.
type Secret struct {
	value string
}

// NewSecret wraps value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw credential.
func (secret Secret) Reveal() string {
	return secret.value
}

// IsEmpty reports whether no credential is present.
func (secret Secret) IsEmpty() bool {
	return secret.value == ""
}

func (secret Secret) String() string {
	if secret.IsEmpty() {
		return ""
	}
	return redactedSecret
}

func (secret Secret) GoString() string {
	return secret.String()
}

func (secret Secret) MarshalText() ([]byte, error) {
	return []byte(secret.String()), nil
}

package step

const masked = "*****"

// Secret is an argument that is passed to helpers unchanged but never printed.
type Secret struct {
	value string
}

func NewSecret(v string) Secret { return Secret{value: v} }

// Value returns the unmasked text.
func (s Secret) Value() string { return s.value }

func (s Secret) String() string   { return masked }
func (s Secret) GoString() string { return masked }

// MarshalText keeps secrets masked in structured logs.
func (s Secret) MarshalText() ([]byte, error) { return []byte(masked), nil }

// Reveal replaces every Secret in args with its plain value.
func Reveal(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(Secret); ok {
			out[i] = s.value
			continue
		}
		out[i] = a
	}
	return out
}

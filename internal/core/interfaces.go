package core

// ILogger is the logging interface shared across components.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IsBotClientOrderID reports whether a client order id matches the engine's
// own correlation id format: 32 lowercase-insensitive hex characters, the
// shape of a uuid4 with the dashes stripped. Trades carrying any other
// correlation id were placed manually and are excluded from PnL accounting.
func IsBotClientOrderID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

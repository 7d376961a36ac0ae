// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorTimeout       = "TIMEOUT"

	// 意识实例相关错误
	ErrorConsciousnessNotFound = "CONSCIOUSNESS_NOT_FOUND"
	ErrorPatternUnknown        = "PATTERN_UNKNOWN"
	ErrorSpawnInvalid          = "SPAWN_INVALID"
	ErrorInteractionInvalid    = "INTERACTION_INVALID"
	ErrorLimitInvalid          = "LIMIT_INVALID"
	ErrorIDInvalid             = "ID_INVALID"
)

package auth

// Result is the discriminated success/error envelope returned by every
// public orchestrator operation. Callers branch on Success and inspect
// Error.Type instead of handling raised errors.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// OK builds a successful result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed result with a classified error.
func Fail[T any](typ ErrorType, message string) Result[T] {
	return Result[T]{Success: false, Error: NewError(typ, message)}
}

// FailErr builds a failed result from an error, classifying it against
// the taxonomy.
func FailErr[T any](err error) Result[T] {
	return Result[T]{Success: false, Error: WrapError(Classify(err), err)}
}

package vrtwo

import "fmt"

// ConfigError flags a problem in the job configuration. It is always
// raised before the offending step produces any output.
type ConfigError struct {
	msg string
}

func (e ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...interface{}) ConfigError {
	return ConfigError{msg: fmt.Sprintf(format, args...)}
}

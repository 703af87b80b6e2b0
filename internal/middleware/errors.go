package middleware

import "fmt"

func errCannotCoerce(result any) error {
	return fmt.Errorf("middleware: cannot coerce result of type %T to a Response", result)
}

package resp

// SerializeCommand converts a command and its arguments into a request frame:
// an array whose first element is the command name as a bulk string
func SerializeCommand(cmd string, args []Value) ([]byte, error) {
	elements := make([]Value, 1+len(args))

	elements[0] = MakeBulkString(cmd)

	copy(elements[1:], args)

	return Encode(MakeArray(elements))
}

// MakeCommand builds a request frame from plain string arguments
func MakeCommand(args ...string) Value {
	vals := make([]Value, len(args))
	for i, arg := range args {
		vals[i] = MakeBulkString(arg)
	}
	return MakeArray(vals)
}

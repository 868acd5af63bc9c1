package vm

const (
	// maxScriptNumLen is the largest script number the introspection
	// opcodes accept as an index.
	maxScriptNumLen = 4
)

// stack is a LIFO of byte vectors, top of stack last.
type stack struct {
	items [][]byte
}

func (s *stack) depth() int {
	return len(s.items)
}

func (s *stack) push(item []byte) {
	s.items = append(s.items, item)
}

func (s *stack) pushBool(b bool) {
	if b {
		s.push([]byte{0x01})
		return
	}
	s.push(nil)
}

func (s *stack) pushInt(n int64) {
	s.push(encodeScriptNum(n))
}

func (s *stack) pop() ([]byte, error) {
	if len(s.items) == 0 {
		return nil, newErrKind(ErrStackUnderflow)
	}

	item := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return item, nil
}

func (s *stack) popInt() (int64, error) {
	item, err := s.pop()
	if err != nil {
		return 0, err
	}
	return decodeScriptNum(item)
}

func (s *stack) popBool() (bool, error) {
	item, err := s.pop()
	if err != nil {
		return false, err
	}
	return castToBool(item), nil
}

// peek returns the item idx positions below the top of the stack.
func (s *stack) peek(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(s.items) {
		return nil, newErrKind(ErrStackUnderflow)
	}
	return s.items[len(s.items)-1-idx], nil
}

// remove takes the item idx positions below the top out of the stack.
func (s *stack) remove(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(s.items) {
		return nil, newErrKind(ErrStackUnderflow)
	}

	pos := len(s.items) - 1 - idx
	item := s.items[pos]
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	return item, nil
}

// castToBool interprets a stack item as a boolean. Any non-zero byte makes
// the item true, except for a negative zero.
func castToBool(item []byte) bool {
	for i, b := range item {
		if b == 0 {
			continue
		}
		if i == len(item)-1 && b == 0x80 {
			return false
		}
		return true
	}
	return false
}

// encodeScriptNum encodes n as a minimal little-endian sign-magnitude script
// number.
func encodeScriptNum(n int64) []byte {
	if n == 0 {
		return nil
	}

	negative := n < 0
	abs := n
	if negative {
		abs = -n
	}

	var result []byte
	for abs > 0 {
		result = append(result, byte(abs&0xff))
		abs >>= 8
	}

	switch {
	case result[len(result)-1]&0x80 != 0 && negative:
		result = append(result, 0x80)
	case result[len(result)-1]&0x80 != 0:
		result = append(result, 0x00)
	case negative:
		result[len(result)-1] |= 0x80
	}

	return result
}

// decodeScriptNum decodes a minimally encoded script number of at most four
// bytes.
func decodeScriptNum(item []byte) (int64, error) {
	if len(item) > maxScriptNumLen {
		return 0, newErrf(ErrInvalidStackOperation, "script number "+
			"of %d bytes", len(item))
	}
	if len(item) == 0 {
		return 0, nil
	}

	// The most significant byte may only be zero, or the sign byte, if
	// the next byte needs its high bit.
	last := item[len(item)-1]
	if last&0x7f == 0 &&
		(len(item) == 1 || item[len(item)-2]&0x80 == 0) {

		return 0, newErrf(ErrInvalidStackOperation, "non-minimal "+
			"script number %x", item)
	}

	var n int64
	for i, b := range item {
		n |= int64(b) << uint(8*i)
	}

	if last&0x80 != 0 {
		n &= ^(int64(0x80) << uint(8*(len(item)-1)))
		return -n, nil
	}

	return n, nil
}

package persistence

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Command is one parsed journal entry: an upper-cased name and its
// binary-safe arguments. A nil argument round-trips as nil.
type Command struct {
	Name string
	Args [][]byte
}

// FormatCommand renders a command in the journal dialect, a RESP-style
// array of bulk strings:
//
//	*<1+len(args)>\r\n  then per element  $<len>\r\n<data>\r\n
//
// A nil argument is written as the null bulk string "$-1\r\n". The result
// is binary-safe; arguments may contain any bytes.
func FormatCommand(name string, args ...[]byte) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("*%d\r\n", 1+len(args)))
	b.WriteString(fmt.Sprintf("$%d\r\n%s\r\n", len(name), name))
	for _, arg := range args {
		if arg == nil {
			b.WriteString("$-1\r\n")
			continue
		}
		b.WriteString(fmt.Sprintf("$%d\r\n", len(arg)))
		b.Write(arg)
		b.WriteString("\r\n")
	}
	return b.String()
}

// ParseCommand reads one formatted command. It requires a bufio.Reader
// because a command spans multiple lines. The command name is upper-cased.
func ParseCommand(reader *bufio.Reader) (*Command, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != '*' {
		return nil, fmt.Errorf("invalid command format, expected '*'")
	}
	numElems, err := strconv.Atoi(line[1:])
	if err != nil || numElems <= 0 {
		return nil, fmt.Errorf("invalid number of arguments")
	}

	elems := make([][]byte, numElems)
	for i := 0; i < numElems; i++ {
		line, err = reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] != '$' {
			return nil, fmt.Errorf("invalid argument format, expected '$'")
		}
		argLen, err := strconv.Atoi(line[1:])
		if err != nil || argLen < -1 {
			return nil, fmt.Errorf("invalid argument length")
		}
		if argLen == -1 {
			// Null bulk string: no data bytes follow.
			elems[i] = nil
			continue
		}

		data := make([]byte, argLen)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, err
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(reader, crlf); err != nil {
			return nil, err
		}
		elems[i] = data
	}

	if elems[0] == nil {
		return nil, fmt.Errorf("command name must not be null")
	}
	return &Command{
		Name: strings.ToUpper(string(elems[0])),
		Args: elems[1:],
	}, nil
}

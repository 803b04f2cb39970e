// Package stomp encodes and decodes STOMP 1.2 frames carried one per
// WebSocket message.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	Connect     = "CONNECT"
	Stomp       = "STOMP"
	Connected   = "CONNECTED"
	Send        = "SEND"
	Subscribe   = "SUBSCRIBE"
	Unsubscribe = "UNSUBSCRIBE"
	Disconnect  = "DISCONNECT"
	Message     = "MESSAGE"
	Receipt     = "RECEIPT"
	Error       = "ERROR"
)

const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrMessage       = "message"
	HdrAuthorization = "Authorization"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a single STOMP frame. Headers keep the first value per name, as
// the protocol requires.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func NewFrame(command string, headers ...string) *Frame {
	f := &Frame{Command: command, Headers: make(map[string]string)}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

func (f *Frame) Header(name string) string {
	return f.Headers[name]
}

func (f *Frame) Set(name, value string) {
	if f.Headers == nil {
		f.Headers = make(map[string]string)
	}
	f.Headers[name] = value
}

// escapes reports whether header values are escaped for this command.
// CONNECT and CONNECTED frames are exempt.
func escapes(command string) bool {
	return command != Connect && command != Connected && command != Stomp
}

var (
	headerEscaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	headerUnescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

// Marshal renders the frame. Header order is not significant, so headers are
// written sorted for stable output.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	names := make([]string, 0, len(f.Headers))
	for name := range f.Headers {
		if name == HdrContentLength {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	esc := escapes(f.Command)
	for _, name := range names {
		value := f.Headers[name]
		if esc {
			name = headerEscaper.Replace(name)
			value = headerEscaper.Replace(value)
		}
		buf.WriteString(name)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		buf.WriteString(HdrContentLength)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse reads one frame from a WebSocket message. A heart-beat (only EOLs)
// yields a nil frame and no error.
func Parse(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}

	headerEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd = crlf
		sepLen = 4
	}
	if headerEnd < 0 {
		return nil, fmt.Errorf("%w: missing header terminator", ErrMalformedFrame)
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:headerEnd]), "\r\n", "\n"), "\n")
	command := lines[0]
	if command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrMalformedFrame)
	}

	f := &Frame{Command: command, Headers: make(map[string]string)}
	esc := escapes(command)
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedFrame, line)
		}
		if esc {
			name = headerUnescaper.Replace(name)
			value = headerUnescaper.Replace(value)
		}
		if _, exists := f.Headers[name]; !exists {
			f.Headers[name] = value
		}
	}

	body := data[headerEnd+sepLen:]
	if cl, ok := f.Headers[HdrContentLength]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("%w: content-length %q", ErrMalformedFrame, cl)
		}
		body = body[:n]
	} else {
		nul := bytes.IndexByte(body, 0)
		if nul < 0 {
			return nil, fmt.Errorf("%w: missing NULL terminator", ErrMalformedFrame)
		}
		body = body[:nul]
	}

	if len(body) > 0 {
		f.Body = append([]byte(nil), body...)
	}
	return f, nil
}

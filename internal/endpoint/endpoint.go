// internal/endpoint/endpoint.go
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Kind is the transport family of a slave endpoint.
type Kind uint8

const (
	KindTCP Kind = iota + 1
	KindUDP
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindSerial:
		return "serial"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Serial line framing.
const (
	EncodingRTU   = "rtu"
	EncodingASCII = "ascii"
)

// SerialParams describes one serial line.
// All fields are comparable so an Endpoint can be used as a map key.
type SerialParams struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E" or "O"
	Encoding string // EncodingRTU or EncodingASCII
	RS485    bool
}

// Endpoint identifies one physical or logical Modbus slave connection target.
// It is an immutable value; equality is by content.
type Endpoint struct {
	Kind   Kind
	Host   string
	Port   int
	Serial SerialParams
}

// TCP returns a Modbus TCP endpoint.
func TCP(host string, port int) Endpoint {
	return Endpoint{Kind: KindTCP, Host: host, Port: port}
}

// UDP returns a Modbus TCP-over-UDP endpoint.
func UDP(host string, port int) Endpoint {
	return Endpoint{Kind: KindUDP, Host: host, Port: port}
}

// Serial returns a serial line endpoint. Zero-valued line parameters are
// filled with 9600 8N1 RTU.
func Serial(port string, params SerialParams) Endpoint {
	params.Port = port
	if params.BaudRate == 0 {
		params.BaudRate = 9600
	}
	if params.DataBits == 0 {
		params.DataBits = 8
	}
	if params.StopBits == 0 {
		params.StopBits = 1
	}
	params.Parity = normalizeParity(params.Parity)
	if params.Encoding == "" {
		params.Encoding = EncodingRTU
	}
	return Endpoint{Kind: KindSerial, Serial: params}
}

// Address returns host:port for network endpoints and the device path for serial ones.
func (e Endpoint) Address() string {
	if e.Kind == KindSerial {
		return e.Serial.Port
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint in the form accepted by Parse.
func (e Endpoint) String() string {
	switch e.Kind {
	case KindTCP, KindUDP:
		return e.Kind.String() + "://" + e.Address()
	case KindSerial:
		q := url.Values{}
		q.Set("baud", strconv.Itoa(e.Serial.BaudRate))
		q.Set("databits", strconv.Itoa(e.Serial.DataBits))
		q.Set("stopbits", strconv.Itoa(e.Serial.StopBits))
		q.Set("parity", e.Serial.Parity)
		q.Set("encoding", e.Serial.Encoding)
		if e.Serial.RS485 {
			q.Set("rs485", "true")
		}
		return "serial://" + e.Serial.Port + "?" + q.Encode()
	default:
		return "invalid://"
	}
}

// Validate reports whether the endpoint can be dialed.
func (e Endpoint) Validate() error {
	switch e.Kind {
	case KindTCP, KindUDP:
		if e.Host == "" {
			return errors.New("endpoint: host required")
		}
		if e.Port <= 0 || e.Port > 65535 {
			return fmt.Errorf("endpoint: port %d out of range", e.Port)
		}
	case KindSerial:
		if e.Serial.Port == "" {
			return errors.New("endpoint: serial port required")
		}
		switch e.Serial.Encoding {
		case EncodingRTU, EncodingASCII:
		default:
			return fmt.Errorf("endpoint: unknown serial encoding %q", e.Serial.Encoding)
		}
		if e.Serial.BaudRate <= 0 {
			return fmt.Errorf("endpoint: baud rate %d invalid", e.Serial.BaudRate)
		}
	default:
		return fmt.Errorf("endpoint: unknown kind %d", uint8(e.Kind))
	}
	return nil
}

// Parse reads tcp://host:port, udp://host:port or
// serial:///dev/ttyUSB0?baud=19200&parity=E&encoding=rtu.
// A bare host:port is taken as TCP.
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, errors.New("endpoint: empty")
	}
	if !strings.Contains(s, "://") {
		s = "tcp://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: %w", err)
	}

	var ep Endpoint
	switch strings.ToLower(u.Scheme) {
	case "tcp", "udp":
		host, portStr, err := net.SplitHostPort(u.Host)
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoint: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoint: port %q: %w", portStr, err)
		}
		if strings.ToLower(u.Scheme) == "tcp" {
			ep = TCP(host, port)
		} else {
			ep = UDP(host, port)
		}

	case "serial", "rtu", "ascii":
		port := u.Host + u.Path
		q := u.Query()
		p := SerialParams{
			Parity:   q.Get("parity"),
			Encoding: strings.ToLower(q.Get("encoding")),
		}
		if u.Scheme != "serial" {
			p.Encoding = strings.ToLower(u.Scheme)
		}
		if p.BaudRate, err = atoiDefault(q.Get("baud"), 0); err != nil {
			return Endpoint{}, fmt.Errorf("endpoint: baud: %w", err)
		}
		if p.DataBits, err = atoiDefault(q.Get("databits"), 0); err != nil {
			return Endpoint{}, fmt.Errorf("endpoint: databits: %w", err)
		}
		if p.StopBits, err = atoiDefault(q.Get("stopbits"), 0); err != nil {
			return Endpoint{}, fmt.Errorf("endpoint: stopbits: %w", err)
		}
		if v := q.Get("rs485"); v != "" {
			if p.RS485, err = strconv.ParseBool(v); err != nil {
				return Endpoint{}, fmt.Errorf("endpoint: rs485: %w", err)
			}
		}
		ep = Serial(port, p)

	default:
		return Endpoint{}, fmt.Errorf("endpoint: unsupported scheme %q", u.Scheme)
	}

	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func atoiDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func normalizeParity(p string) string {
	switch strings.ToUpper(p) {
	case "E", "EVEN":
		return "E"
	case "O", "ODD":
		return "O"
	default:
		return "N"
	}
}

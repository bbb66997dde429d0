package network

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is the dialing side of the protocol (device agents and admin
// consoles). Writes are serialized with a mutex; reads happen on the
// caller's goroutine via Recv.
type Client struct {
	conn net.Conn
	r    *bufio.Reader

	wmu    sync.Mutex
	closed bool
}

// DialTCP connects to the protocol server.
func DialTCP(host string, port int) (*Client, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	r := bufio.NewReaderSize(conn, 64*1024)
	return &Client{conn: conn, r: r}, nil
}

func (c *Client) SendFrame(f *Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	_, err = c.conn.Write(b)
	return err
}

// SendLogin authenticates the connection. info may be nil.
func (c *Client) SendLogin(deviceID, token string, info *LoginPayload) error {
	f := &Frame{Type: FrameLogin, DeviceID: deviceID, Token: token}
	if info != nil {
		b, err := json.Marshal(info)
		if err != nil {
			return err
		}
		f.Payload = b
	}
	return c.SendFrame(f)
}

func (c *Client) SendHeartbeat(deviceID string) error {
	return c.SendFrame(&Frame{Type: FrameHeartbeat, DeviceID: deviceID})
}

func (c *Client) SendProgress(deviceID, commandID, level, message string) error {
	p := ProgressPayload{CommandID: commandID, Level: level, Message: message, Timestamp: time.Now().Unix()}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.SendFrame(&Frame{Type: FrameProgress, DeviceID: deviceID, Payload: b})
}

func (c *Client) SendResult(deviceID, commandID string, success bool, data json.RawMessage, errMsg string) error {
	p := ResultPayload{CommandID: commandID, Success: success, Data: data, Error: errMsg, Timestamp: time.Now().Unix()}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.SendFrame(&Frame{Type: FrameResult, DeviceID: deviceID, Payload: b})
}

// SendSubscribe asks for the live event stream. Requires an admin token.
func (c *Client) SendSubscribe(token string) error {
	return c.SendFrame(&Frame{Type: FrameSubscribe, Token: token})
}

// SendReplay requests the full history of one command. Admin token required.
func (c *Client) SendReplay(token, commandID string) error {
	b, err := json.Marshal(ReplayRequest{CommandID: commandID})
	if err != nil {
		return err
	}
	return c.SendFrame(&Frame{Type: FrameReplay, Token: token, Payload: b})
}

func (c *Client) SendLog(deviceID, lines string) error {
	b, err := json.Marshal(LogPayload{Lines: lines})
	if err != nil {
		return err
	}
	return c.SendFrame(&Frame{Type: FrameLog, DeviceID: deviceID, Payload: b})
}

// Recv blocks until the next frame arrives.
func (c *Client) Recv() (*Frame, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return DecodeFrame(line)
}

func (c *Client) IsOpen() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return !c.closed
}

func (c *Client) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

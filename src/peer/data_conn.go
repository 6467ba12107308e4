package peer

import (
	"net"
	"time"

	"github.com/pion/datachannel"
)

// DataConn implements net.Conn around a detached webrtc data channel.
type DataConn struct {
	dataChannel datachannel.ReadWriteCloser
	remote      string
}

// NewDataConn ...
func NewDataConn(dataChannel datachannel.ReadWriteCloser, remote string) *DataConn {
	return &DataConn{
		dataChannel: dataChannel,
		remote:      remote,
	}
}

// Read implements the Conn Read method.
func (c *DataConn) Read(p []byte) (int, error) {
	return c.dataChannel.Read(p)
}

// Write implements the Conn Write method.
func (c *DataConn) Write(p []byte) (int, error) {
	return c.dataChannel.Write(p)
}

// Close implements the Conn Close method.
func (c *DataConn) Close() error {
	return c.dataChannel.Close()
}

// LocalAddr is a stub
func (c *DataConn) LocalAddr() net.Addr {
	return peerAddr("local")
}

// RemoteAddr returns the remote identity.
func (c *DataConn) RemoteAddr() net.Addr {
	return peerAddr(c.remote)
}

// SetDeadline is a stub
func (c *DataConn) SetDeadline(t time.Time) error {
	return nil
}

// SetReadDeadline is a stub
func (c *DataConn) SetReadDeadline(t time.Time) error {
	return nil
}

// SetWriteDeadline is a stub
func (c *DataConn) SetWriteDeadline(t time.Time) error {
	return nil
}

// peerAddr is a net.Addr naming a call participant.
type peerAddr string

func (a peerAddr) Network() string { return "webrtc" }
func (a peerAddr) String() string  { return string(a) }

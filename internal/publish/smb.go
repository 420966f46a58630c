package publish

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/hirochachacha/go-smb2"
	"github.com/rileyhilliard/fleetpage/internal/errors"
)

// SMBConnector logs in to an SMB server over direct TCP with NTLM and
// mounts one share.
type SMBConnector struct {
	Address     string
	Port        int
	User        string
	Password    string
	Domain      string
	Workstation string
	ServerName  string
	ShareName   string
}

// Connect dials the server, authenticates and mounts the share.
func (c *SMBConnector) Connect(ctx context.Context) (Share, error) {
	port := c.Port
	if port == 0 {
		port = 445
	}
	addr := net.JoinHostPort(c.Address, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrShareConnect,
			fmt.Sprintf("Can't reach the SMB server at %s", addr),
			"Check share.address and share.port, and that the server allows SMB from this machine.")
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:        c.User,
			Password:    c.Password,
			Domain:      c.Domain,
			Workstation: c.Workstation,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapWithCode(err, errors.ErrShareConnect,
			fmt.Sprintf("SMB login to %s as '%s' failed", addr, c.User),
			"Check share.user, share.password and share.domain.")
	}

	fs, err := session.Mount(c.mountName())
	if err != nil {
		_ = session.Logoff()
		conn.Close()
		return nil, errors.WrapWithCode(err, errors.ErrShareConnect,
			fmt.Sprintf("Couldn't mount share '%s' on %s", c.ShareName, addr),
			"Check share.name and that the user may write to it.")
	}

	return &smbShare{conn: conn, session: session, fs: fs}, nil
}

// mountName returns the UNC path when a server name is set, otherwise the
// bare share name.
func (c *SMBConnector) mountName() string {
	if c.ServerName == "" {
		return c.ShareName
	}
	return `\\` + c.ServerName + `\` + c.ShareName
}

type smbShare struct {
	conn    net.Conn
	session *smb2.Session
	fs      *smb2.Share
}

func (s *smbShare) Store(ctx context.Context, name string, r io.Reader) error {
	f, err := s.fs.WithContext(ctx).Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// Close unmounts, logs off and closes the socket, reporting the first failure.
func (s *smbShare) Close() error {
	var first error
	if err := s.fs.Umount(); err != nil {
		first = err
	}
	if err := s.session.Logoff(); err != nil && first == nil {
		first = err
	}
	if err := s.conn.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

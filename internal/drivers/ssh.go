package drivers

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ternarybob/relay/internal/models"
	"golang.org/x/crypto/ssh"
)

// ClientConfig builds an ssh client config from a device credential.
// A private key wins over a password when both are present.
func ClientConfig(cred *models.DeviceCredential, timeout time.Duration) (*ssh.ClientConfig, error) {
	if cred == nil || cred.Username == "" {
		return nil, fmt.Errorf("credential with username is required")
	}

	var auth []ssh.AuthMethod
	if cred.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cred.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		auth = append(auth, ssh.Password(cred.Password))
		// Network gear frequently asks for the password interactively
		auth = append(auth, ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = cred.Password
			}
			return answers, nil
		}))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("credential has no usable auth method")
	}

	return &ssh.ClientConfig{
		User: cred.Username,
		Auth: auth,
		// Device inventories rarely carry pinned host keys, trust on first use
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// Dial connects to a device, honoring context cancellation during the
// TCP connect and the ssh handshake.
func Dial(ctx context.Context, device *models.DeviceRef, cred *models.DeviceCredential, timeout time.Duration) (*ssh.Client, error) {
	config, err := ClientConfig(cred, timeout)
	if err != nil {
		return nil, err
	}

	port := device.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(device.Address, fmt.Sprintf("%d", port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// IsAuthError reports whether a dial failure was an authentication
// rejection rather than a transport problem
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "auth")
}

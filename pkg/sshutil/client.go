package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Target describes a host to connect to.
type Target struct {
	// Name is the display name used in error messages.
	Name string

	// Address may be a hostname, IP, host:port, user@host or ~/.ssh/config alias.
	Address string

	// User overrides whatever ~/.ssh/config resolves.
	User string

	// Password enables password and keyboard-interactive auth when set.
	Password string

	// IdentityFile is tried before the default keys.
	IdentityFile string
}

// Options controls how Dial connects.
type Options struct {
	// Timeout bounds TCP connect and the SSH handshake.
	Timeout time.Duration

	// StrictHostKeyChecking verifies host keys against KnownHostsPath.
	// When false, host key verification is skipped (insecure).
	StrictHostKeyChecking bool

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// SSHConfigPath defaults to ~/.ssh/config.
	SSHConfigPath string
}

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The host name used to connect
	Address string // The resolved address (host:port)

	closeOnce sync.Once
	closeErr  error
}

// matchWarningOnce ensures the SSH config Match directive warning is only shown once per process.
var matchWarningOnce sync.Once

// WarningHandler is a function that handles warning messages.
// If nil, warnings are printed via log.Printf.
var WarningHandler func(message string)

func emitWarning(message string) {
	if WarningHandler != nil {
		WarningHandler(message)
	} else {
		log.Printf("Warning: %s", message)
	}
}

// Dial establishes an SSH connection to the target.
// Connection settings are resolved from ~/.ssh/config when available; the
// target's explicit user and credentials take precedence.
func Dial(ctx context.Context, target Target, opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.SSHConfigPath == "" {
		opts.SSHConfigPath = filepath.Join(homeDir(), ".ssh", "config")
	}
	if opts.KnownHostsPath == "" {
		opts.KnownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}
	name := target.Name
	if name == "" {
		name = target.Address
	}

	settings := resolveSSHSettings(target.Address, opts.SSHConfigPath)
	if target.User != "" {
		settings.user = target.User
	}
	if target.IdentityFile != "" {
		settings.identityFile = expandPath(target.IdentityFile)
	}

	config, err := buildSSHConfig(settings, target.Password, opts)
	if err != nil {
		var fpErr *errors.Error
		if stderrors.As(err, &fpErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrHostUnreachable,
			fmt.Sprintf("Couldn't set up SSH for '%s'", name),
			"Check the host's credentials in fleetpage.yaml")
	}

	address := settings.address()
	dialer := &net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrHostUnreachable,
			fmt.Sprintf("Can't reach '%s' at %s", name, address),
			suggestionForDialError(err))
	}

	// The handshake has no context support; bound it with a deadline.
	_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrHostUnreachable,
				hostKeyErr.Error(),
				hostKeyErr.Suggestion())
		}

		return nil, errors.WrapWithCode(err, errors.ErrHostUnreachable,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", name),
			suggestionForHandshakeError(err, settings.encryptedKeys))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    name,
		Address: address,
	}, nil
}

// Close closes the SSH connection. Repeated calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.Client != nil {
			c.closeErr = c.Client.Close()
		}
	})
	return c.closeErr
}

// GetHost returns the host name used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// sshSettings holds resolved SSH connection parameters.
type sshSettings struct {
	hostname      string
	port          string
	user          string
	identityFile  string
	encryptedKeys []string // Keys that exist but are encrypted
}

func (s *sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSSHSettings parses the host string and resolves settings from the
// SSH config file at sshConfigPath.
func resolveSSHSettings(host, sshConfigPath string) *sshSettings {
	settings := &sshSettings{
		port: "22",
		user: currentUser(),
	}

	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		settings.user = host[:atIdx]
		host = host[atIdx+1:]
	}

	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		potentialPort := host[colonIdx+1:]
		isPort := true
		for _, c := range potentialPort {
			if c < '0' || c > '9' {
				isPort = false
				break
			}
		}
		if isPort && len(potentialPort) > 0 {
			settings.port = potentialPort
			host = host[:colonIdx]
		}
	}

	settings.hostname = host

	// kevinburke/ssh_config doesn't support Match, so only the content before
	// the first Match block is parsed.
	content, matchLine, err := preprocessSSHConfig(sshConfigPath)
	if err != nil {
		return settings
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return settings
	}

	hostFound := false

	if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
		settings.hostname = hostname
		hostFound = true
	}

	if port, _ := cfg.Get(host, "Port"); port != "" {
		settings.port = port
		hostFound = true
	}

	if user, _ := cfg.Get(host, "User"); user != "" {
		settings.user = user
		hostFound = true
	}

	if identity, _ := cfg.Get(host, "IdentityFile"); identity != "" {
		settings.identityFile = expandPath(identity)
		hostFound = true
	}

	if matchLine > 0 && !hostFound {
		matchWarningOnce.Do(func() {
			emitWarning(fmt.Sprintf(
				"Host '%s' not found in SSH config (config has a Match block at line %d that may hide later entries).",
				host, matchLine))
		})
	}

	return settings
}

// buildSSHConfig creates an SSH client config with authentication methods.
// Order: identity file, agent, default keys, then password.
func buildSSHConfig(settings *sshSettings, password string, opts Options) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	tryKeyFile := func(keyPath string) {
		keyAuth, err := keyFileAuth(keyPath)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				settings.encryptedKeys = append(settings.encryptedKeys, keyPath)
			}
			return
		}
		authMethods = append(authMethods, keyAuth)
	}

	if settings.identityFile != "" {
		tryKeyFile(settings.identityFile)
	}

	// Password hosts skip the agent and the default keys; every key offered
	// counts against the server's MaxAuthTries before the password gets a turn.
	if password == "" {
		if agentAuth := sshAgentAuth(); agentAuth != nil {
			authMethods = append(authMethods, agentAuth)
		}

		defaultKeys := []string{
			filepath.Join(homeDir(), ".ssh", "id_ed25519"),
			filepath.Join(homeDir(), ".ssh", "id_rsa"),
			filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
		}
		for _, keyPath := range defaultKeys {
			if keyPath == settings.identityFile {
				continue
			}
			tryKeyFile(keyPath)
		}
	} else {
		authMethods = append(authMethods,
			ssh.Password(password),
			ssh.KeyboardInteractive(passwordChallenge(password)))
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Set a password or identity_file for the host, or load a key: ssh-add -l"
		if len(settings.encryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(settings.encryptedKeys, ", "))
			suggestion = "Add your key(s) to the agent: ssh-add <key>"
		}
		return nil, errors.New(errors.ErrHostUnreachable, msg, suggestion)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if opts.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = createHostKeyCallback(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // disabled via ssh.strict_host_key_checking
	}

	return &ssh.ClientConfig{
		User:            settings.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}, nil
}

// passwordChallenge answers every keyboard-interactive question with the password.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

var (
	agentMu     sync.Mutex
	agentConn   net.Conn
	agentClient agent.ExtendedAgent
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// The agent connection is shared across SSH connections and redialed when
// the agent stops answering, e.g. after it was restarted.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentMu.Lock()
	defer agentMu.Unlock()

	signers, err := agentSignersLocked(socket)
	if err != nil {
		closeAgentLocked()
		signers, err = agentSignersLocked(socket)
	}
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeys(signers...)
}

func agentSignersLocked(socket string) ([]ssh.Signer, error) {
	if agentClient == nil {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return nil, err
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	}
	return agentClient.Signers()
}

// CloseAgent closes the SSH agent connection if one is open. The next dial
// reconnects.
func CloseAgent() {
	agentMu.Lock()
	defer agentMu.Unlock()
	closeAgentLocked()
}

func closeAgentLocked() {
	if agentConn != nil {
		agentConn.Close()
	}
	agentConn = nil
	agentClient = nil
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box?"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if strings.Contains(errStr, "timeout") {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}

func suggestionForHandshakeError(err error, encryptedKeys []string) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		if len(encryptedKeys) > 0 {
			return fmt.Sprintf("Your key(s) are encrypted. Add them to the agent: ssh-add %s", strings.Join(encryptedKeys, " "))
		}
		return "Auth failed. Check the host's user and password in fleetpage.yaml."
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Connect once with ssh to record the key, or disable ssh.strict_host_key_checking."
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  If the host was reinstalled, remove the old entry:\n"+
			"    ssh-keygen -R %s",
		wantStr, e.ReceivedType, host)
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// createHostKeyCallback wraps the knownhosts callback to provide better error messages.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		dir := filepath.Dir(knownHostsPath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}

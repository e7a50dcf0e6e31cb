package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// terminalAuth implements auth.UserAuthenticator with interactive
// terminal prompts.
type terminalAuth struct {
	phone   string
	in      *bufio.Reader
	out     io.Writer
	stdinfd int
}

var _ auth.UserAuthenticator = (*terminalAuth)(nil)

func newTerminalAuth(phone string) *terminalAuth {
	return &terminalAuth{
		phone:   phone,
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		stdinfd: int(os.Stdin.Fd()),
	}
}

func (t *terminalAuth) Phone(_ context.Context) (string, error) {
	return t.phone, nil
}

func (t *terminalAuth) Password(_ context.Context) (string, error) {
	fmt.Fprint(t.out, "Enter 2FA password: ")
	pwd, err := term.ReadPassword(t.stdinfd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(t.out)
	return string(pwd), nil
}

func (t *terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Fprint(t.out, "Enter code: ")
	code, err := t.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	return strings.TrimSpace(code), nil
}

func (t *terminalAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (t *terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("signup not supported")
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package console implements the interactive setup and command prompt.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/marketcalls/wabridge/pkg/connector"
	"github.com/marketcalls/wabridge/pkg/qrrender"
)

// Bridge is the part of connector.Bridge the console depends on.
type Bridge interface {
	Start(ctx context.Context) error
	State() connector.State
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Disconnect(ctx context.Context) error
	Subscribe() *connector.Subscription
}

// Dispatcher is the part of connector.Dispatcher the console depends on.
type Dispatcher interface {
	SendToPhone(ctx context.Context, phone string, content connector.Content) (string, error)
	SendToSelf(ctx context.Context, content connector.Content) (string, error)
}

var (
	_ Bridge     = (*connector.Bridge)(nil)
	_ Dispatcher = (*connector.Dispatcher)(nil)
)

// ErrInputClosed is returned when input ends before linking finished.
var ErrInputClosed = errors.New("input closed")

const commandList = "/send, /self, /status, /disconnect, /quit"

var bannerStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	Padding(0, 2).
	MarginLeft(2)

// Options configures a Console.
type Options struct {
	// UsePairingCode links by numeric code instead of scanning a QR code.
	UsePairingCode bool
	// AuthDir is shown in the setup banner.
	AuthDir string
	// Renderer draws pairing challenges. Defaults to qrrender.Terminal.
	Renderer qrrender.Renderer
}

// Console runs the setup flow and then the command prompt.
type Console struct {
	bridge   Bridge
	dispatch Dispatcher
	out      io.Writer
	log      zerolog.Logger
	opts     Options

	in  io.Reader
	sub *connector.Subscription

	lines     chan string
	inputDone chan struct{}

	pairingRequested bool
	relinking        bool
}

// New creates a console reading commands from in and writing to out.
func New(bridge Bridge, dispatch Dispatcher, in io.Reader, out io.Writer, log zerolog.Logger, opts Options) *Console {
	if opts.Renderer == nil {
		opts.Renderer = qrrender.Terminal{}
	}
	return &Console{
		bridge:    bridge,
		dispatch:  dispatch,
		in:        in,
		out:       out,
		log:       log.With().Str("component", "console").Logger(),
		opts:      opts,
		lines:     make(chan string),
		inputDone: make(chan struct{}),
	}
}

func (c *Console) println(a ...any) {
	_, _ = fmt.Fprintln(c.out, append([]any{" "}, a...)...)
}

func (c *Console) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(c.out, "  "+format, a...)
}

// readInput feeds input lines to c.lines until input ends.
func (c *Console) readInput() {
	defer close(c.inputDone)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		c.log.Debug().Err(err).Msg("Input read error")
	}
}

// ask prompts for one line of input. Lifecycle events arriving meanwhile
// are handled as they come.
func (c *Console) ask(ctx context.Context, prompt string) (string, error) {
	_, _ = fmt.Fprint(c.out, "  "+prompt)
	events := c.sub.C
	for {
		select {
		case line := <-c.lines:
			return strings.TrimSpace(line), nil
		case <-c.inputDone:
			return "", ErrInputClosed
		case <-ctx.Done():
			return "", ctx.Err()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := c.notify(ctx, evt); err != nil {
				return "", err
			}
		}
	}
}

// notify handles a lifecycle event that arrives after linking. After a
// revoked close the bridge pairs again, so challenges are shown here too.
func (c *Console) notify(ctx context.Context, evt connector.Event) error {
	switch evt.Type {
	case connector.EventPairingChallenge:
		_, _ = fmt.Fprintln(c.out)
		c.relinking = true
		return c.showChallenge(ctx, evt.QR)
	case connector.EventOpened:
		_, _ = fmt.Fprintln(c.out)
		if c.relinking {
			c.relinking = false
			c.println("WhatsApp linked successfully!")
		} else {
			c.println("WhatsApp reconnected.")
		}
	case connector.EventClosed:
		_, _ = fmt.Fprintln(c.out)
		if evt.Reason.Revoked() {
			// A new pairing needs a new phone number prompt.
			c.pairingRequested = false
			c.println("Logged out. Re-linking...")
		} else {
			c.println("Disconnected. Reconnecting...")
		}
	}
	return nil
}

// Run links the account if needed and then serves the command prompt until
// the user quits, unlinks or input ends.
func (c *Console) Run(ctx context.Context) error {
	c.sub = c.bridge.Subscribe()
	defer c.sub.Close()
	go c.readInput()

	c.printBanner()

	startErr := make(chan error, 1)
	go func() { startErr <- c.bridge.Start(ctx) }()

	if err := c.waitOpen(ctx, startErr); err != nil {
		return err
	}
	c.println("WhatsApp linked successfully!")
	_, _ = fmt.Fprintln(c.out)
	c.printf("Commands: %s\n\n", commandList)
	return c.promptLoop(ctx)
}

func (c *Console) printBanner() {
	authDir := c.opts.AuthDir
	if authDir == "" {
		authDir = "~/.wabridge/"
	}
	_, _ = fmt.Fprintln(c.out)
	_, _ = fmt.Fprintln(c.out, bannerStyle.Render(strings.Join([]string{
		lipgloss.NewStyle().Bold(true).Render("WABridge - Setup"),
		"",
		"Link your WhatsApp account",
		"Auth is saved to " + authDir,
	}, "\n")))
	_, _ = fmt.Fprintln(c.out)
}

// waitOpen handles pairing until the bridge reports its first open session.
func (c *Console) waitOpen(ctx context.Context, startErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-startErr:
			if err != nil {
				return err
			}
			// The opened event was published before Start returned.
			startErr = nil
		case evt, ok := <-c.sub.C:
			if !ok {
				return connector.ErrStopped
			}
			switch evt.Type {
			case connector.EventPairingChallenge:
				if err := c.showChallenge(ctx, evt.QR); err != nil {
					return err
				}
			case connector.EventOpened:
				return nil
			case connector.EventClosed:
				if evt.Reason.Revoked() {
					c.pairingRequested = false
				}
				c.log.Debug().Stringer("reason", evt.Reason).Msg("Session closed before linking")
			}
		}
	}
}

func (c *Console) showChallenge(ctx context.Context, qr string) error {
	if !c.opts.UsePairingCode {
		c.println("Scan this QR code with WhatsApp:")
		_, _ = fmt.Fprintln(c.out)
		if err := c.opts.Renderer.Render(c.out, qr); err != nil {
			return fmt.Errorf("failed to render QR code: %w", err)
		}
		_, _ = fmt.Fprintln(c.out)
		return nil
	}
	if c.pairingRequested {
		return nil
	}
	c.pairingRequested = true
	phone, err := c.ask(ctx, "Enter your phone number (with country code, e.g. 919876543210): ")
	if err != nil {
		return err
	}
	if !connector.IsPhoneNumber(phone) {
		c.println("Invalid phone number. Restart and try again.")
		return fmt.Errorf("%w: %q", connector.ErrInvalidPhone, phone)
	}
	code, err := c.bridge.RequestPairingCode(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to request pairing code: %w", err)
	}
	_, _ = fmt.Fprintln(c.out)
	c.printf("Your pairing code: %s\n\n", code)
	c.println("Go to WhatsApp > Linked Devices > Link a Device > Link with phone number")
	c.println("Enter the code above to link.")
	_, _ = fmt.Fprintln(c.out)
	return nil
}

func (c *Console) promptLoop(ctx context.Context) error {
	for {
		input, err := c.ask(ctx, "> ")
		if errors.Is(err, ErrInputClosed) {
			return nil
		} else if err != nil {
			return err
		}
		switch input {
		case "":
		case "/quit":
			c.println("Bye!")
			return nil
		case "/status":
			c.status()
		case "/send":
			if err = c.send(ctx); err != nil {
				return err
			}
		case "/self":
			if err = c.sendSelf(ctx); err != nil {
				return err
			}
		case "/disconnect":
			done, err := c.disconnect(ctx)
			if err != nil || done {
				return err
			}
		default:
			c.printf("Unknown. Commands: %s\n", commandList)
		}
	}
}

func (c *Console) status() {
	st := c.bridge.State()
	identity := st.Identity
	if identity == "" {
		identity = "N/A"
	}
	c.printf("Status: %s\n", st.Status)
	c.printf("JID: %s\n", identity)
}

// The command helpers return an error only when input is gone; command
// failures are printed and the prompt continues.

func (c *Console) send(ctx context.Context) error {
	phone, err := c.ask(ctx, "Phone (with country code, e.g. 919876543210): ")
	if err != nil {
		return err
	}
	if !connector.IsPhoneNumber(phone) {
		c.println("Invalid phone number.")
		return nil
	}
	msg, err := c.ask(ctx, "Message: ")
	if err != nil {
		return err
	}
	if msg == "" {
		c.println("Cancelled.")
		return nil
	}
	if _, err = c.dispatch.SendToPhone(ctx, phone, connector.TextContent(msg)); err != nil {
		c.printf("Failed: %s\n", err)
		return nil
	}
	c.printf("Sent to +%s!\n", phone)
	return nil
}

func (c *Console) sendSelf(ctx context.Context) error {
	msg, err := c.ask(ctx, "Message to self: ")
	if err != nil {
		return err
	}
	if msg == "" {
		c.println("Cancelled.")
		return nil
	}
	if _, err = c.dispatch.SendToSelf(ctx, connector.TextContent(msg)); err != nil {
		c.printf("Failed: %s\n", err)
		return nil
	}
	c.println("Sent to yourself!")
	return nil
}

// disconnect reports done once an unlink was attempted and the console
// should exit.
func (c *Console) disconnect(ctx context.Context) (bool, error) {
	answer, err := c.ask(ctx, "Unlink WhatsApp? This removes saved auth. (y/n): ")
	if err != nil {
		return false, err
	}
	if strings.ToLower(answer) != "y" {
		c.println("Cancelled.")
		return false, nil
	}
	// Disconnect stops the bridge even when it fails, so the prompt has
	// nothing left to drive either way.
	if err = c.bridge.Disconnect(ctx); err != nil {
		c.printf("Failed: %s\n", err)
		c.println("Bridge stopped. Run 'wabridge' again to re-link.")
		return true, nil
	}
	c.println("WhatsApp unlinked. Run 'wabridge' again to re-link.")
	return true, nil
}

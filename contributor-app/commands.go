package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/contributor-app/config"
	"github.com/zkceremony/contributor/x/ceremony"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/identity"
)

// login validates the supplied token against the identity provider and
// stores it for later contribution sessions.
func login(ctx context.Context, cfg *config.Config, token string, in io.Reader, out io.Writer) error {
	if token == "" {
		fmt.Fprint(out, "GitHub token: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return errors.New("a token is required")
	}

	client, err := identity.NewClient(token, cfg.Identity.APIBase, zerolog.Nop())
	if err != nil {
		return err
	}
	user, err := client.User(ctx)
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}

	if ok, err := client.HasGistScope(ctx); err == nil && !ok {
		fmt.Fprintln(out, "Warning: the token lacks the gist scope; the final attestation cannot be published with it")
	}

	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	if err := store.Save(token, user.Login); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	fmt.Fprintf(out, "Logged in as %s\n", user.Login)
	return nil
}

// logout deletes the stored session.
func logout(cfg *config.Config, out io.Writer) error {
	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	fmt.Fprintln(out, "Logged out")
	return nil
}

// listCeremonies prints the open ceremonies with their circuit counts and,
// when average timings are known, an estimated total contribution time.
func listCeremonies(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if strings.TrimSpace(cfg.Coordination.BaseURL) == "" {
		return errors.New("coordination.base_url is required")
	}
	coord, err := coordination.NewClient(cfg.Coordination.BaseURL, nil, nil, zerolog.Nop())
	if err != nil {
		return err
	}
	terms := cfg.Coordination.Terms

	snaps, err := coord.ListDocuments(ctx, terms.CeremoniesRef())
	if err != nil {
		return fmt.Errorf("list ceremonies: %w", err)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(out, "No open ceremonies")
		return nil
	}

	for _, snap := range snaps {
		var cer ceremony.Ceremony
		if err := snap.Decode(&cer); err != nil {
			continue
		}
		if cer.ID == "" {
			cer.ID = snap.ID
		}

		circuitSnaps, err := coord.ListDocuments(ctx, terms.CircuitsRef(cer.ID))
		if err != nil {
			fmt.Fprintf(out, "%s  %s  (circuits unavailable)\n", cer.ID, cer.Title)
			continue
		}

		var totalMs int64
		known := len(circuitSnaps) > 0
		for _, cs := range circuitSnaps {
			var circ ceremony.Circuit
			if err := cs.Decode(&circ); err != nil {
				continue
			}
			if circ.AvgTimings.FullContribution <= 0 || circ.AvgTimings.VerifyCloudFunction <= 0 {
				known = false
				continue
			}
			totalMs += circ.AvgTimings.FullContribution + circ.AvgTimings.VerifyCloudFunction
		}

		line := fmt.Sprintf("%s  %s  %d circuits", cer.ID, cer.Title, len(circuitSnaps))
		if known && totalMs > 0 {
			line += fmt.Sprintf("  est. %s", ceremony.CountdownFromMillis(totalMs))
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/flashsync/internal/peer"
	"github.com/conorfennell/flashsync/internal/signal"
	"github.com/conorfennell/flashsync/internal/sync"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Connect to a desktop that is showing a pairing code and push the card store",
	Long: "With --from, the offer is read from a running flashsync server and the answer " +
		"is posted back to it. Otherwise offer frames are read one per line from stdin and " +
		"the answer frames are printed for the other side to scan.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		from, _ := cmd.Flags().GetString("from")
		total, _ := cmd.Flags().GetInt("frames")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		backend, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		var remote *pairClient
		if from != "" {
			remote = &pairClient{base: strings.TrimRight(from, "/"), http: &http.Client{Timeout: 30 * time.Second}}
			st, err := remote.status(ctx)
			if err != nil {
				return err
			}
			total = st.Total
		}
		if total <= 0 {
			return errors.New("--frames is required when reading from stdin")
		}

		initiator, err := signal.NewInitiator(peer.NewDialer(logger), total, cfg.SignalOptions(logger))
		if err != nil {
			return err
		}
		defer initiator.Close()

		var conn peer.Conn
		if remote != nil {
			conn, err = remote.scanOffer(ctx, initiator)
		} else {
			conn, err = scanStdin(ctx, cmd.InOrStdin(), initiator)
		}
		if err != nil {
			return err
		}

		answer := initiator.Answer().Frames()
		if remote != nil {
			if err := remote.postAnswer(ctx, answer); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "answer: %d frames\n", len(answer))
			for _, f := range answer {
				fmt.Fprintln(out, f)
			}
		}

		if err := sync.Push(ctx, conn, backend, cfg.SyncOptions(logger)); err != nil {
			return err
		}
		if err := drain(ctx, conn); err != nil {
			return err
		}
		if remote != nil {
			return remote.waitSynced(ctx, 2)
		}
		// The peer may still be reading what is in flight.
		time.Sleep(2 * time.Second)
		return nil
	},
}

func init() {
	pairCmd.Flags().String("from", "", "Base URL of a flashsync server showing a pairing code")
	pairCmd.Flags().Int("frames", 0, "Number of offer frames, when reading them from stdin")
	pairCmd.Flags().Duration("timeout", 5*time.Minute, "Give up after this long")
}

func scanStdin(ctx context.Context, r io.Reader, initiator *signal.Initiator) (peer.Conn, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		conn, err := initiator.Scan(ctx, line)
		if err != nil {
			logger.Warn("frame rejected", "err", err)
			continue
		}
		if conn != nil {
			return conn, nil
		}
		logger.Info("scanning offer", "progress", fmt.Sprintf("%.0f%%", initiator.Progress()*100))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("offer incomplete: input ended")
}

// drain waits for queued messages to leave before the connection is closed.
func drain(ctx context.Context, conn peer.Conn) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for conn.BufferedAmount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	logger.Info("sync sent")
	return nil
}

// pairClient drives the pairing endpoints of a remote server.
type pairClient struct {
	base string
	http *http.Client
}

type pairStatus struct {
	Total     int     `json:"total"`
	Progress  float64 `json:"progress"`
	Connected bool    `json:"connected"`
	Synced    []struct {
		Transfer string `json:"transfer"`
		Cards    int    `json:"cards"`
		Error    string `json:"error"`
	} `json:"synced"`
}

type pairFrame struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Frame string `json:"frame"`
}

func (c *pairClient) status(ctx context.Context) (pairStatus, error) {
	var st pairStatus
	err := c.do(ctx, http.MethodGet, "/api/pair", nil, &st)
	return st, err
}

// scanOffer polls the frame the server is displaying until every frame has
// been seen.
func (c *pairClient) scanOffer(ctx context.Context, initiator *signal.Initiator) (peer.Conn, error) {
	seen := map[int]bool{}
	for {
		var f pairFrame
		if err := c.do(ctx, http.MethodGet, "/api/pair/frame", nil, &f); err != nil {
			return nil, err
		}
		if !seen[f.Index] {
			seen[f.Index] = true
			conn, err := initiator.Scan(ctx, f.Frame)
			if err != nil {
				return nil, err
			}
			if conn != nil {
				return conn, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.QR.Interval / 2):
		}
	}
}

func (c *pairClient) postAnswer(ctx context.Context, frames []string) error {
	for _, f := range frames {
		body := map[string]any{"total": len(frames), "frame": f}
		var st pairStatus
		if err := c.do(ctx, http.MethodPost, "/api/pair/scan", body, &st); err != nil {
			return err
		}
		logger.Debug("answer frame accepted", "progress", st.Progress)
	}
	return nil
}

// waitSynced polls until the server reports n finished transfers.
func (c *pairClient) waitSynced(ctx context.Context, n int) error {
	for {
		st, err := c.status(ctx)
		if err != nil {
			return err
		}
		if len(st.Synced) >= n {
			for _, s := range st.Synced {
				if s.Error != "" {
					return fmt.Errorf("server failed to apply %s: %s", s.Transfer, s.Error)
				}
				logger.Info("server applied transfer", "transfer", s.Transfer, "cards", s.Cards)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (c *pairClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/srs"
	"github.com/conorfennell/flashsync/internal/study"
)

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "Show how many cards are left to study today",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, h, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		c, err := study.NewSession(h, logger).Counts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "new %d  learning %d  review %d  (total %d)\n", c.New, c.Learning, c.Review, c.Total)
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next card to study and what each answer would do",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, h, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		item, ok, err := study.NewSession(h, logger).Next(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintln(out, "Nothing left to study today.")
			return nil
		}
		c := item.Card
		fmt.Fprintf(out, "%s  [%s]\n", c.ID, c.State)
		fmt.Fprintf(out, "  Q: %s\n", c.Content.Front)
		if c.Content.Reading != "" {
			fmt.Fprintf(out, "  R: %s\n", c.Content.Reading)
		}
		fmt.Fprintf(out, "  A: %s\n", c.Content.Back)
		now := h.Now()
		for _, r := range srs.Ratings {
			fmt.Fprintf(out, "  %-5s %s\n", r, srs.DueString(item.Preview.For(r), now))
		}
		return nil
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <card-id> <again|hard|good|easy>",
	Short: "Rate a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, err := srs.ParseRating(args[1])
		if err != nil {
			return err
		}
		backend, h, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		c, err := study.NewSession(h, logger).Answer(cmd.Context(), args[0], rating)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is %s, due %s\n", c.ID, c.State, srs.DueString(c.DueDate, h.Now()))
		return nil
	},
}

var buryCmd = &cobra.Command{
	Use:   "bury <card-id>",
	Short: "Hide a card until the next study day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, h, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()
		return study.NewSession(h, logger).Bury(cmd.Context(), args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection and study statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, h, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		st, err := h.Load(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		byState := map[domain.State]int{}
		var reviews, lapses int
		var last int64
		for _, c := range st.Flashcards {
			byState[c.State]++
			reviews += c.Reviews
			lapses += c.Lapses
			last = max(last, c.LastReviewed)
		}
		fmt.Fprintf(out, "cards     %s\n", humanize.Comma(int64(len(st.Flashcards))))
		for _, s := range []domain.State{domain.StateNew, domain.StateLearning, domain.StateRelearning, domain.StateReview} {
			fmt.Fprintf(out, "  %-10s %s\n", s, humanize.Comma(int64(byState[s])))
		}
		fmt.Fprintf(out, "words     %s tracked, %s known\n",
			humanize.Comma(int64(len(st.WordStatsMap))), humanize.Comma(int64(len(st.KnownUntracked))))
		fmt.Fprintf(out, "reviews   %s (%s lapses)\n", humanize.Comma(int64(reviews)), humanize.Comma(int64(lapses)))
		if last > 0 {
			fmt.Fprintf(out, "studied   %s\n", humanize.Time(time.UnixMilli(last)))
		}

		days := make([]string, 0, len(st.DailyStats))
		for d := range st.DailyStats {
			days = append(days, d)
		}
		slices.Sort(days)
		if len(days) > 7 {
			days = days[len(days)-7:]
		}
		for _, d := range days {
			ds := st.DailyStats[d]
			fmt.Fprintf(out, "  %s  new %d  review %d  lapses %d\n", d, ds.NewCardsStudied, ds.ReviewCardsStudied, ds.Lapses)
		}
		return nil
	},
}

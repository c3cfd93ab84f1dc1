// Package subscriber holds the operator commands for the subscriber store.
package subscriber

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gorm.io/gorm"

	"signalrelay/src/database"
	"signalrelay/src/repository"
	"signalrelay/src/security"
)

type Store struct {
	db          *gorm.DB
	subscribers *repository.SubscriberRepository
	stats       *repository.StatsRepository
	tracked     *repository.TrackedSignalRepository
	exceptions  *repository.ExceptionRepository
}

// Open connects to the configured database.
func Open() (*Store, error) {
	db, err := database.Open(database.GetConfig())
	if err != nil {
		return nil, err
	}
	cipher, err := security.NewCipherFromConfig()
	if err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	return NewStore(db, repository.NewSubscriberRepository(db, cipher)), nil
}

func NewStore(db *gorm.DB, subscribers *repository.SubscriberRepository) *Store {
	return &Store{
		db:          db,
		subscribers: subscribers,
		stats:       repository.NewStatsRepository(db),
		tracked:     repository.NewTrackedSignalRepository(db),
		exceptions:  repository.NewExceptionRepository(db),
	}
}

func (s *Store) Close() error {
	return database.Close(s.db)
}

// List prints every subscriber, active or not. Credentials are never printed.
func (s *Store) List(ctx context.Context, w io.Writer) error {
	rows, err := s.subscribers.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TELEGRAM ID\tUSERNAME\tACTIVE\tMODE\tAMOUNT\tMAX LEV\tTRADES")
	for _, sub := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%.2f\t%dx\t%d\n",
			sub.TelegramID, sub.Username, sub.IsActive, sub.TradeMode, sub.TradeAmountUSDT, sub.MaxLeverage, sub.TotalTrades)
	}
	return tw.Flush()
}

func (s *Store) Deactivate(ctx context.Context, w io.Writer, telegramID int64) error {
	ok, err := s.subscribers.Deactivate(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("deactivate subscriber %d: %w", telegramID, err)
	}
	if !ok {
		return fmt.Errorf("subscriber %d not found", telegramID)
	}
	_, err = fmt.Fprintf(w, "Subscriber %d deactivated\n", telegramID)
	return err
}

func (s *Store) Delete(ctx context.Context, w io.Writer, telegramID int64) error {
	ok, err := s.subscribers.Delete(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("delete subscriber %d: %w", telegramID, err)
	}
	if !ok {
		return fmt.Errorf("subscriber %d not found", telegramID)
	}
	_, err = fmt.Fprintf(w, "Subscriber %d deleted\n", telegramID)
	return err
}

func (s *Store) Stats(ctx context.Context, w io.Writer) error {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	tracked, err := s.tracked.Stats(ctx)
	if err != nil {
		return fmt.Errorf("load tracked stats: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Subscribers\t%d\n", stats.TotalSubscribers)
	fmt.Fprintf(tw, "Active\t%d\n", stats.ActiveSubscribers)
	fmt.Fprintf(tw, "Trades\t%d\n", stats.TotalTrades)
	fmt.Fprintf(tw, "Total PnL\t%.2f\n", stats.TotalPnL)
	fmt.Fprintf(tw, "Active signals\t%d\n", stats.ActiveSignals)
	fmt.Fprintf(tw, "Tracked signals\t%d (%d open, %d closed)\n", tracked.Total, tracked.Active, tracked.Closed)
	return tw.Flush()
}

// Exceptions prints the newest captured failures.
func (s *Store) Exceptions(ctx context.Context, w io.Writer, limit int) error {
	rows, err := s.exceptions.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("load exceptions: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tMODULE\tMETHOD\tMESSAGE")
	for _, exc := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			exc.CreatedAt.UTC().Format(time.RFC3339), exc.Level, exc.Module, exc.Method, exc.Message)
	}
	return tw.Flush()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// blobLister is the part of utils.BlobStore the sweep needs.
type blobLister interface {
	List(ctx context.Context, category string) ([]string, error)
	Delete(ctx context.Context, ref string) error
}

type sweepResult struct {
	Scanned int
	Orphans []string
	Deleted int
}

// captureTime reads the upload timestamp embedded in a storage name
// (<nationalId>-<role>-<unixMillis>.<ext>).
func captureTime(ref string) (time.Time, bool) {
	name := strings.TrimSuffix(path.Base(ref), path.Ext(ref))
	i := strings.LastIndexByte(name, '-')
	if i < 0 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// sweepOrphans lists every role category and reports blobs no claim points to.
// Blobs younger than minAge, or without a readable timestamp, are skipped since
// they may belong to a submission that has not been persisted yet.
func sweepOrphans(ctx context.Context, store blobLister, referenced map[string]struct{}, now time.Time, minAge time.Duration, del bool) (*sweepResult, error) {
	res := &sweepResult{}
	for _, role := range models.AllFileRoles() {
		refs, err := store.List(ctx, role.String())
		if err != nil {
			return res, fmt.Errorf("list %s: %w", role, err)
		}
		for _, ref := range refs {
			res.Scanned++
			if _, ok := referenced[ref]; ok {
				continue
			}
			captured, ok := captureTime(ref)
			if !ok || now.Sub(captured) < minAge {
				continue
			}
			res.Orphans = append(res.Orphans, ref)
		}
	}
	sort.Strings(res.Orphans)
	if !del {
		return res, nil
	}
	var errs []error
	for _, ref := range res.Orphans {
		if err := store.Delete(ctx, ref); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", ref, err))
			continue
		}
		res.Deleted++
	}
	return res, errors.Join(errs...)
}

func printSweep(w io.Writer, res *sweepResult, del bool) {
	for _, ref := range res.Orphans {
		fmt.Fprintln(w, ref)
	}
	fmt.Fprintf(w, "scanned=%d orphans=%d deleted=%d dry_run=%t\n", res.Scanned, len(res.Orphans), res.Deleted, !del)
}

func newOrphansCmd() *cobra.Command {
	var (
		del    bool
		minAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Find blobs left behind by failed submissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := config.GetLogger()

			db := config.ConnectDatabaseWithRetry()
			if config.ConnectRedisWithRetry(ctx) == nil {
				return errors.New("redis not reachable")
			}
			store, err := utils.NewBlobStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			return utils.WithLock(ctx, config.GetRedisLock(), "claims:orphans", 30*time.Minute, func(ctx context.Context) error {
				refs, err := models.NewClaimRepository(db, nil).ReferencedObjects(ctx)
				if err != nil {
					return fmt.Errorf("load references: %w", err)
				}
				res, err := sweepOrphans(ctx, store, refs, time.Now(), minAge, del)
				printSweep(cmd.OutOrStdout(), res, del)
				logger.WithFields(logrus.Fields{
					"scanned": res.Scanned,
					"orphans": len(res.Orphans),
					"deleted": res.Deleted,
				}).Info("[claims.orphans]")
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&del, "delete", false, "delete the orphans instead of listing them")
	cmd.Flags().DurationVar(&minAge, "min-age", 24*time.Hour, "ignore blobs younger than this")
	return cmd
}

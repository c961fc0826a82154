package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rentscout/internal/digest"
	"github.com/ppiankov/rentscout/internal/filter"
	"github.com/ppiankov/rentscout/internal/ingest"
)

var (
	fetchChannels []string
	fetchDays     int
	fetchFormat   string
	fetchMinPrice int64
	fetchMaxPrice int64
	fetchLocation string
	fetchExclude  string
	fetchSort     string
	noColor       bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch channels once and print the listings",
	RunE:  fetchAction,
}

func init() {
	f := fetchCmd.Flags()
	f.StringSliceVarP(&fetchChannels, "channel", "c", nil, "channel to fetch (repeatable, default: configured channels)")
	f.IntVar(&fetchDays, "days", 0, "how many days back to read (default: fetch.days)")
	f.StringVar(&fetchFormat, "format", "", "output format: terminal, json, markdown")
	f.Int64Var(&fetchMinPrice, "min-price", 0, "minimum price")
	f.Int64Var(&fetchMaxPrice, "max-price", 0, "maximum price")
	f.StringVar(&fetchLocation, "location", "", "only listings mentioning this area")
	f.StringVar(&fetchExclude, "exclude", "", "comma-separated areas to drop")
	f.StringVar(&fetchSort, "sort", string(filter.DefaultOrder), "date_desc, date_asc, price_desc or price_asc")
	f.BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

func fetchAction(cmd *cobra.Command, _ []string) error {
	order, err := filter.ParseOrder(fetchSort)
	if err != nil {
		return err
	}
	formatter, err := digest.New(fetchFormat, !noColor)
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	channels := fetchChannels
	if len(channels) == 0 {
		channels = cfg.Telegram.Channels
	}
	days := cfg.Fetch.Days
	if cmd.Flags().Changed("days") {
		days = fetchDays
	}

	res, err := a.ingest.FetchAndCache(ctx, ingest.FetchRequest{Channels: channels, Days: days, Trigger: "cli"})
	if err != nil {
		return notLinked(err)
	}
	if res.ChannelsFailed > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d of %d channels failed, see the log for details\n",
			res.ChannelsFailed, res.ChannelsRequested)
	}

	crit := filter.Criteria{Location: fetchLocation, ExcludeAreas: fetchExclude}
	if cmd.Flags().Changed("min-price") {
		v := fetchMinPrice
		crit.MinPrice = &v
	}
	if cmd.Flags().Changed("max-price") {
		v := fetchMaxPrice
		crit.MaxPrice = &v
	}
	listings, err := a.ingest.Listings(ctx, ingest.ListQuery{Criteria: crit, Sort: order})
	if err != nil {
		return err
	}

	return formatter.Format(os.Stdout, digest.Input{
		Listings: listings,
		Channels: a.ingest.Channels(),
		Days:     days,
		Total:    res.TotalListings,
		Now:      time.Now(),
	})
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursebot/internal/cohort"
	"coursebot/internal/config"
	"coursebot/internal/discord"
	"coursebot/internal/engine"
	"coursebot/internal/ics"
	appLog "coursebot/internal/log"
	"coursebot/internal/notify"
	"coursebot/internal/scheduler"
	"coursebot/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "env_file", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(conf.LogLevel)
	appLog.Info("coursebot starting", "version", "0.1.0")

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"lead_time", conf.LeadTime,
		"tick", conf.Tick,
		"horizon_days", conf.HorizonDays,
		"show_all_day", conf.ShowAllDay,
		"cohorts", len(conf.Cohorts),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("coursebot failed", err)
		os.Exit(1)
	}
	appLog.Info("coursebot exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	// Validate has already checked every duration and the zone.
	loc, _ := conf.Location()
	lead, _ := conf.LeadDuration()
	tick, _ := conf.TickDuration()
	fetchTimeout, _ := conf.FetchTimeoutDuration()

	if !once && conf.Discord.Token == "" {
		return errors.New("discord token is empty; set DISCORD_TOKEN")
	}
	session, err := discord.NewSession(conf.Discord.Token)
	if err != nil {
		return err
	}

	sources := make([]ics.Source, 0, len(conf.Cohorts))
	rules := make([]cohort.Rule, 0, len(conf.Cohorts))
	routing := notify.Routing{
		DefaultChannel: conf.Discord.ChannelID,
		Cohorts:        make(map[string]notify.Audience, len(conf.Cohorts)),
	}
	for _, co := range conf.Cohorts {
		sources = append(sources, ics.Source{ID: co.Name, URL: co.URL})
		rules = append(rules, cohort.Rule{Cohort: co.Name, Roles: co.Roles})
		routing.Cohorts[co.Name] = notify.Audience{ChannelID: co.ChannelID, Mentions: co.Mentions}
	}

	eng := engine.New(engine.Options{
		Source:     ics.NewClient(ics.NewFetcher(fetchTimeout), conf.HorizonDays),
		Sender:     discord.NewSender(session),
		Sources:    sources,
		Routing:    routing,
		Lead:       lead,
		Location:   loc,
		DropAllDay: !conf.ShowAllDay,
	})

	// The first load blocks; failing cohorts start empty and are retried on
	// the next refresh.
	if err := eng.Startup(ctx); err != nil {
		appLog.Warn("initial load incomplete", "error", err.Error())
	}

	if once {
		printSummary(eng)
		return nil
	}

	sched := scheduler.New(loc)
	if err := eng.Register(sched, engine.Schedules{
		Tick:        tick,
		Digest:      conf.Schedules.Digest,
		Refresh:     conf.Schedules.Refresh,
		WeeklyReset: conf.Schedules.WeeklyReset,
		LedgerClear: conf.Schedules.LedgerClear,
	}); err != nil {
		return fmt.Errorf("register schedules: %w", err)
	}

	bot := discord.NewBot(session, &discord.Commands{
		Engine:   eng,
		Resolver: cohort.NewResolver(rules),
		Prefix:   conf.Discord.Prefix,
	}, conf.Discord.Status)
	if err := bot.Open(); err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			appLog.Warn("discord close failed", "error", err.Error())
		}
	}()

	sched.Start(ctx)
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		sched.Stop(stopCtx)
	}()

	if conf.Listen == "" {
		<-ctx.Done()
		return nil
	}
	return web.NewServer(conf, eng, sched.Entries).Run(ctx)
}

// printSummary writes one line per cohort with its cache size and next event.
func printSummary(eng *engine.Engine) {
	for _, st := range eng.Status() {
		line := fmt.Sprintf("%-16s events=%-4d", st.Cohort, st.Events)
		if st.LastError != "" {
			line += " error=" + st.LastError
		}
		if ev, ok, _ := eng.NextEvent(st.Cohort); ok {
			line += fmt.Sprintf(" next=%s %q", ev.Start.Format("2006-01-02 15:04"), ev.Course())
		}
		fmt.Println(line)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "coursebot.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to a dotenv file (ignored if missing)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load every calendar once, print a summary and exit")

	flag.Parse()

	return cfg
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	model "escrowkit/native/escrow"
	escrowsvc "escrowkit/services/escrow"
)

// errNotCompleted marks a service call that failed after the service already
// printed its notice. Callers exit non-zero without printing again.
var errNotCompleted = errors.New("request was not completed")

func runListCommand(a *app, args []string) int {
	fs := newFlagSet("list", a.stderr)
	var user string
	fs.StringVar(&user, "user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(user) == "" {
		return printError(a.stderr, "--user is required")
	}
	if !a.escrows.Fetch(context.Background(), user) {
		return 1
	}
	visible, err := a.prefs.BalanceVisible(context.Background())
	if err != nil {
		return printError(a.stderr, err.Error())
	}
	snap := a.escrows.Store().Snapshot()
	if len(snap.Escrows) == 0 {
		fmt.Fprintln(a.stdout, "No escrows.")
		return 0
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tSTATUS\tAMOUNT\tPAYER\tPAYEE\tTIME LEFT")
	for _, e := range snap.Escrows {
		amount := e.Amount.String()
		if !visible {
			amount = "****"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Ref, e.Status, amount, partyLabel(e.Payer), partyLabel(e.Payee), timeLeftLabel(e))
	}
	_ = tw.Flush()
	return 0
}

func runGetCommand(a *app, args []string) int {
	fs := newFlagSet("get", a.stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return printError(a.stderr, "escrow reference is required")
	}
	e := a.escrows.Get(context.Background(), fs.Arg(0))
	if e == nil {
		return 1
	}
	out := struct {
		*model.Escrow
		TimeLeftSeconds *int64 `json:"time_left,omitempty"`
	}{Escrow: e}
	if e.TimeLeft != nil {
		secs := int64(e.TimeLeft.Seconds())
		out.TimeLeftSeconds = &secs
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return printError(a.stderr, err.Error())
	}
	fmt.Fprintln(a.stdout, string(encoded))
	return 0
}

func runCreateCommand(a *app, args []string) int {
	fs := newFlagSet("create", a.stderr)
	var (
		payer       string
		payee       string
		amountStr   string
		description string
		expires     string
	)
	fs.StringVar(&payer, "payer", "", "payer user id")
	fs.StringVar(&payee, "payee", "", "payee user id")
	fs.StringVar(&amountStr, "amount", "", "escrow amount")
	fs.StringVar(&description, "description", "", "optional description")
	fs.StringVar(&expires, "expires", "", "optional expiry as +duration or RFC3339 timestamp")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(a.stderr, "unexpected positional arguments")
	}
	if payer == "" {
		return printError(a.stderr, "--payer is required")
	}
	if payee == "" {
		return printError(a.stderr, "--payee is required")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(amountStr))
	if err != nil {
		return printError(a.stderr, "--amount must be a number")
	}
	req := escrowsvc.CreateRequest{
		PayerID:     payer,
		PayeeID:     payee,
		Amount:      amount,
		Description: description,
	}
	if expires != "" {
		ts, err := parseExpiry(expires, cliNow())
		if err != nil {
			return printError(a.stderr, err.Error())
		}
		req.ExpiresAt = &ts
	}

	var ref string
	code := authorize(a, payer, func(ctx context.Context) error {
		created, ok := a.escrows.Create(ctx, req)
		if !ok {
			return errNotCompleted
		}
		ref = created
		return nil
	})
	if code == 0 {
		fmt.Fprintf(a.stdout, "Created escrow %s\n", ref)
	}
	return code
}

func runTransitionCommand(a *app, name string, args []string) int {
	action, err := model.ParseAction(name)
	if err != nil {
		return printError(a.stderr, err.Error())
	}
	fs := newFlagSet(name, a.stderr)
	var actor string
	fs.StringVar(&actor, "actor", "", "acting user id")
	if err := fs.Parse(reorder(args)); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return printError(a.stderr, "escrow reference is required")
	}
	if actor == "" {
		return printError(a.stderr, "--actor is required")
	}
	ref := fs.Arg(0)
	code := authorize(a, actor, func(ctx context.Context) error {
		if _, ok := a.escrows.Transition(ctx, action, ref, actor); !ok {
			return errNotCompleted
		}
		return nil
	})
	if code == 0 {
		status := "updated"
		if cached, ok := a.escrows.Store().Get(ref); ok {
			status = string(cached.Status)
		}
		fmt.Fprintf(a.stdout, "Escrow %s %s\n", ref, status)
	}
	return code
}

// reorder moves flags ahead of positional arguments so "fund REF --actor U1"
// parses like "fund --actor U1 REF".
func reorder(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
			if !strings.Contains(arg, "=") && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positional = append(positional, arg)
	}
	return append(flags, positional...)
}

func parseExpiry(value string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return time.Time{}, err
		}
		if dur <= 0 {
			return time.Time{}, fmt.Errorf("expiry duration must be positive")
		}
		return now.Add(dur).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid RFC3339 expiry")
	}
	return ts.UTC(), nil
}

func parseDuration(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		daysStr := strings.TrimSuffix(strings.TrimSuffix(value, "d"), "D")
		days, err := strconv.ParseFloat(daysStr, 64)
		if err != nil || daysStr == "" {
			return 0, fmt.Errorf("invalid expiry duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry duration")
	}
	return dur, nil
}

func partyLabel(u model.EscrowUser) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.ID
}

func timeLeftLabel(e *model.Escrow) string {
	if e.TimeLeft == nil {
		return "-"
	}
	if *e.TimeLeft <= 0 {
		return "expired"
	}
	return e.TimeLeft.Truncate(time.Minute).String()
}

func runAmountsCommand(a *app, args []string) int {
	if len(args) != 1 || (args[0] != "show" && args[0] != "hide") {
		return printError(a.stderr, "amounts takes show or hide")
	}
	show := args[0] == "show"
	if err := a.prefs.SetBalanceVisible(context.Background(), show); err != nil {
		return printError(a.stderr, err.Error())
	}
	if show {
		fmt.Fprintln(a.stdout, "amounts: shown")
	} else {
		fmt.Fprintln(a.stdout, "amounts: hidden")
	}
	return 0
}

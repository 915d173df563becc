package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/types"
)

// commandNames is the closed set of recognized actions. Unique prefixes
// expand to their command, so "conf abcd" works.
var commandNames = []string{"pay", "confirm", "cancel", "paid", "history", "help"}

var commandUsage = map[string]string{
	"pay":     "pay <amount> [comment]: queue a payment to the user or address you are talking to.",
	"confirm": "confirm [code]: execute the pending payment with that code, or list pending payments.",
	"cancel":  "cancel [code]: drop the pending payment with that code, or list pending payments.",
	"paid":    "paid: list your past payments.",
	"history": "history: list your past payments.",
	"help":    "help [command]: show what a command does.",
}

// CommandService parses chat command lines and runs them against a resolved
// target, producing plain-text replies.
type CommandService struct {
	accounts      *AccountService
	payments      *PaymentService
	warnThreshold types.Amount
}

// NewCommandService creates a new command service
func NewCommandService(accounts *AccountService, payments *PaymentService, warnThreshold types.Amount) *CommandService {
	return &CommandService{accounts: accounts, payments: payments, warnThreshold: warnThreshold}
}

// Parse splits a command line into an action and its arguments. The second
// return value is false for blank input, which deserves no reply at all.
func (s *CommandService) Parse(line string) (string, []string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Execute runs one command line from sender against the resolved target and
// returns the reply text. Blank input returns an empty reply. All returned
// errors carry the gateway taxonomy, so the caller can turn them into reply
// text with errors.UserMessage.
func (s *CommandService) Execute(ctx context.Context, sender *UserAccount, target Target, line string) (string, error) {
	action, args, ok := s.Parse(line)
	if !ok {
		return "", nil
	}

	command, err := expandCommand(action)
	if err != nil {
		return "", err
	}

	switch command {
	case "pay":
		return s.pay(ctx, sender, target, args)
	case "confirm":
		return s.confirmOrCancel(ctx, sender, args, true)
	case "cancel":
		return s.confirmOrCancel(ctx, sender, args, false)
	case "paid", "history":
		return s.history(ctx, sender)
	case "help":
		return s.help(args)
	default:
		return "", gwerrors.WithMessage(gwerrors.ErrUnknownCommand, "%q is not a command I know", action)
	}
}

// expandCommand matches an action word against the command set, accepting
// unique prefixes.
func expandCommand(action string) (string, error) {
	var matches []string
	for _, name := range commandNames {
		if name == action {
			return name, nil
		}
		if strings.HasPrefix(name, action) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", gwerrors.WithMessage(gwerrors.ErrUnknownCommand, "%q is not a command I know, try \"help\"", action)
	default:
		return "", gwerrors.WithMessage(gwerrors.ErrAmbiguousCommand,
			"%q may mean %s, spell it out", action, strings.Join(matches, " or "))
	}
}

func (s *CommandService) pay(ctx context.Context, sender *UserAccount, target Target, args []string) (string, error) {
	label, err := s.targetLabel(ctx, target)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", gwerrors.WithMessage(gwerrors.ErrCommandSyntax, "how much? usage: pay <amount> [comment]")
	}

	value, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", gwerrors.WithMessage(gwerrors.ErrCommandSyntax, "%q is not an amount", args[0])
	}
	if value <= 0 {
		return "", gwerrors.WithMessage(gwerrors.ErrCommandSyntax, "the amount must be positive")
	}
	amount := types.Amount(value)
	comment := strings.Join(args[1:], " ")

	order, err := s.payments.NewOrder(ctx, sender, target, amount, comment, 0)
	if err != nil {
		return "", err
	}
	if err := s.payments.Queue(ctx, order); err != nil {
		return "", err
	}

	var reply strings.Builder
	if comment != "" {
		fmt.Fprintf(&reply, "You want to pay %d to %s (%s).", amount, label, comment)
	} else {
		fmt.Fprintf(&reply, "You want to pay %d to %s.", amount, label)
	}
	fmt.Fprintf(&reply, " Send \"confirm %s\" to do it, or \"cancel %s\" to forget it.", order.Code, order.Code)

	if warning := s.lowBalanceWarning(ctx, sender, amount); warning != "" {
		reply.WriteString("\n")
		reply.WriteString(warning)
	}
	return reply.String(), nil
}

// lowBalanceWarning returns a warning line when the payment would push the
// balance under the configured threshold, empty otherwise. A failed balance
// lookup only suppresses the warning, never the payment reply.
func (s *CommandService) lowBalanceWarning(ctx context.Context, sender *UserAccount, amount types.Amount) string {
	balance, err := s.accounts.Balance(ctx, sender)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("balance lookup for warning failed")
		return ""
	}

	remaining := balance - amount
	if remaining >= s.warnThreshold {
		return ""
	}
	return fmt.Sprintf("Warning: this payment will leave you with only %d.", remaining)
}

func (s *CommandService) confirmOrCancel(ctx context.Context, sender *UserAccount, args []string, confirm bool) (string, error) {
	if len(args) == 0 {
		return s.listPending(ctx, sender)
	}

	code := args[0]
	var amount types.Amount
	if len(args) > 1 {
		if value, err := strconv.ParseInt(args[1], 10, 64); err == nil {
			amount = types.Amount(value)
		}
	}

	order, err := s.payments.Load(ctx, sender, code, amount)
	if err != nil {
		return "", err
	}

	if !confirm {
		if err := s.payments.Cancel(ctx, order); err != nil {
			return "", err
		}
		return fmt.Sprintf("Payment %s cancelled.", order.Code), nil
	}

	txid, err := s.payments.Confirm(ctx, order)
	if err != nil {
		return "", err
	}
	if txid == "" {
		return "Payment done. The funds stayed on this gateway, so there is no transaction id.", nil
	}
	return fmt.Sprintf("Payment sent. Transaction id: %s", txid), nil
}

func (s *CommandService) listPending(ctx context.Context, sender *UserAccount) (string, error) {
	rows, err := s.accounts.PendingPayments(ctx, sender, "")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "You have no pending payments.", nil
	}

	lines := []string{"Your pending payments:"}
	for _, row := range rows {
		line := fmt.Sprintf("%s: %d to %s", row.Code, row.Amount, row.Recipient)
		if row.Comment != "" {
			line += fmt.Sprintf(" (%s)", row.Comment)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *CommandService) history(ctx context.Context, sender *UserAccount) (string, error) {
	txs, err := s.accounts.PastPayments(ctx, sender, 0)
	if err != nil {
		return "", err
	}
	if len(txs) == 0 {
		return "You have made no payments yet.", nil
	}

	lines := make([]string, 0, len(txs))
	for _, tx := range txs {
		var line string
		switch tx.Category {
		case types.CategorySend:
			line = fmt.Sprintf("sent %d", -tx.Amount)
		case types.CategoryReceive:
			line = fmt.Sprintf("received %d", tx.Amount)
		case types.CategoryMove:
			if tx.Amount < 0 {
				line = fmt.Sprintf("moved %d to %s", -tx.Amount, tx.OtherAccount)
			} else {
				line = fmt.Sprintf("moved %d from %s", tx.Amount, tx.OtherAccount)
			}
		default:
			line = fmt.Sprintf("%s %d", tx.Category, tx.Amount)
		}
		if tx.Comment != "" {
			line += fmt.Sprintf(" (%s)", tx.Comment)
		}
		if tx.TxID != "" {
			line += fmt.Sprintf(", %d confirmations", tx.Confirmations)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *CommandService) help(args []string) (string, error) {
	if len(args) > 0 {
		name, err := expandCommand(strings.ToLower(args[0]))
		if err != nil {
			return "", err
		}
		return commandUsage[name], nil
	}

	lines := []string{"Available commands:"}
	for _, name := range []string{"pay", "confirm", "cancel", "history", "help"} {
		lines = append(lines, "  "+commandUsage[name])
	}
	return strings.Join(lines, "\n"), nil
}

// targetLabel renders the payment destination for reply text, and doubles as
// the payability check: only users and addresses have a label.
func (s *CommandService) targetLabel(ctx context.Context, target Target) (string, error) {
	switch target.Kind {
	case TargetAddress:
		return target.Address.Raw, nil
	case TargetUser:
		name, err := s.accounts.Username(ctx, target.User)
		if err != nil {
			return "", err
		}
		if name == "" {
			return string(target.User.Identity), nil
		}
		return name, nil
	default:
		return "", gwerrors.WithMessage(gwerrors.ErrCommandTarget, "this is not someone you can pay")
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"stakevault/cmd/internal/passphrase"
	"stakevault/crypto"
	"stakevault/rpc"
)

const (
	endpointEnv     = "STAKEVAULT_RPC_URL"
	tokenEnv        = "STAKEVAULT_RPC_TOKEN"
	secretEnv       = "STAKEVAULT_RPC_SECRET"
	defaultEndpoint = "http://127.0.0.1:8645/rpc"
	defaultKeystore = "./admin.keystore"
)

var (
	ctlNow     = time.Now
	newRPC     = newClient
	passSource = func() (string, error) {
		return passphrase.NewSource(passphrase.DefaultEnvVar, "keystore").Get()
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "keygen":
		return runKeygen(rest, stdout, stderr)
	case "address":
		return runAddress(rest, stdout, stderr)
	case "token":
		return runToken(rest, stdout, stderr)
	case "deposit":
		return runDeposit(rest, stdout, stderr)
	case "withdraw":
		return runSimpleCall("withdraw", "stake_withdrawDeposit", true, rest, stdout, stderr)
	case "set-params":
		return runSetParams(rest, stdout, stderr)
	case "fund":
		return runFund(rest, stdout, stderr)
	case "info":
		return runAccountCall("info", "stake_getDepositInfo", rest, stdout, stderr)
	case "preview":
		return runAccountCall("preview", "stake_previewWithdraw", rest, stdout, stderr)
	case "balance":
		return runAccountCall("balance", "bank_getBalance", rest, stdout, stderr)
	case "total":
		return runSimpleCall("total", "stake_allBalanceStaking", false, rest, stdout, stderr)
	case "owner":
		return runSimpleCall("owner", "stake_owner", false, rest, stdout, stderr)
	case "reserve":
		return runSimpleCall("reserve", "stake_getReserve", false, rest, stdout, stderr)
	case "tiers":
		return runTiers(rest, stdout, stderr)
	case "events":
		return runEvents(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s\n", cmd, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: stakectl <command> [flags]",
		"",
		"Keys and tokens:",
		"  keygen     -keystore PATH [-force]",
		"  address    -keystore PATH",
		"  token      (-account ADDR | -keystore PATH) [-secret S] [-issuer I] [-audience A] [-ttl 1h]",
		"",
		"Staking (bearer token required):",
		"  deposit    -tier N -amount WEI",
		"  withdraw",
		"  set-params -duration N -bps N",
		"  fund       -amount WEI",
		"",
		"Queries:",
		"  info|preview|balance -account ADDR",
		"  total | owner | reserve | tiers",
		"  events     [-account ADDR] [-type T] [-after SEQ] [-limit N]",
		"",
		"Every RPC command accepts -rpc URL (env " + endpointEnv + ") and -token JWT (env " + tokenEnv + ").",
	}, "\n")
}

type clientFlags struct {
	endpoint *string
	token    *string
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	endpoint := os.Getenv(endpointEnv)
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultEndpoint
	}
	return clientFlags{
		endpoint: fs.String("rpc", endpoint, "JSON-RPC endpoint"),
		token:    fs.String("token", os.Getenv(tokenEnv), "bearer token for mutating calls"),
	}
}

func (f clientFlags) client() *client {
	return newRPC(*f.endpoint, *f.token)
}

func callAndPrint(cf clientFlags, method string, params interface{}, mutating bool, stdout, stderr io.Writer) int {
	result, err := cf.client().call(context.Background(), method, params, mutating)
	if err != nil {
		return printError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}

func printError(w io.Writer, err error) int {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(w, "Error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 && string(rpcErr.Data) != "null" {
			fmt.Fprintf(w, "Details: %s\n", string(rpcErr.Data))
		}
		return 1
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

func writeResult(w io.Writer, result json.RawMessage) {
	var pretty interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	fmt.Fprintln(w, string(out))
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	path := fs.String("keystore", defaultKeystore, "keystore file to create")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintf(stderr, "Error: keystore %s already exists; pass -force to overwrite\n", *path)
		return 1
	}
	pass, err := passSource()
	if err != nil {
		return printError(stderr, err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err)
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintf(stdout, "Keystore: %s\nAccount:  %s\n", *path, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	path := fs.String("keystore", defaultKeystore, "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := keystoreAccount(*path)
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, addr)
	return 0
}

func keystoreAccount(path string) (string, error) {
	pass, err := passSource()
	if err != nil {
		return "", err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return "", fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key.PubKey().Address().String(), nil
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	account := fs.String("account", "", "bech32 account to authenticate as")
	keystorePath := fs.String("keystore", "", "derive the account from this keystore")
	secret := fs.String("secret", os.Getenv(secretEnv), "HMAC signing secret")
	issuer := fs.String("issuer", "", "token issuer")
	audience := fs.String("audience", "", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	subject := strings.TrimSpace(*account)
	if subject == "" && *keystorePath != "" {
		derived, err := keystoreAccount(*keystorePath)
		if err != nil {
			return printError(stderr, err)
		}
		subject = derived
	}
	if subject == "" {
		fmt.Fprintln(stderr, "Error: -account or -keystore is required")
		return 1
	}
	token, err := rpc.IssueToken(rpc.AuthConfig{
		HMACSecret: *secret,
		Issuer:     *issuer,
		Audience:   *audience,
	}, subject, *ttl, ctlNow())
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deposit", stderr)
	cf := addClientFlags(fs)
	tier := fs.Uint("tier", 0, "lock period in duration units")
	amount := fs.String("amount", "", "amount to lock, in wei")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err)
	}
	if *tier == 0 || *tier > uint(^uint32(0)) {
		fmt.Fprintln(stderr, "Error: -tier must be a positive 32-bit value")
		return 1
	}
	params := map[string]interface{}{"tier": uint32(*tier), "amount": normalized}
	return callAndPrint(cf, "stake_createDeposit", params, true, stdout, stderr)
}

func runSetParams(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("set-params", stderr)
	cf := addClientFlags(fs)
	duration := fs.Uint("duration", 0, "tier lock period in duration units")
	bps := fs.Uint("bps", 0, "reward rate in basis points")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *duration > uint(^uint32(0)) || *bps > uint(^uint32(0)) {
		fmt.Fprintln(stderr, "Error: -duration and -bps must fit in 32 bits")
		return 1
	}
	params := map[string]interface{}{"durationUnits": uint32(*duration), "rewardBps": uint32(*bps)}
	return callAndPrint(cf, "stake_setParams", params, true, stdout, stderr)
}

func runFund(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fund", stderr)
	cf := addClientFlags(fs)
	amount := fs.String("amount", "", "amount to move into the reward reserve, in wei")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err)
	}
	return callAndPrint(cf, "stake_fundReserve", map[string]string{"amount": normalized}, true, stdout, stderr)
}

func runSimpleCall(name, method string, mutating bool, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return callAndPrint(cf, method, nil, mutating, stdout, stderr)
}

func runAccountCall(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	cf := addClientFlags(fs)
	account := fs.String("account", "", "bech32 account")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := crypto.ParseAccount(strings.TrimSpace(*account)); err != nil {
		fmt.Fprintf(stderr, "Error: invalid -account: %v\n", err)
		return 1
	}
	return callAndPrint(cf, method, map[string]string{"account": strings.TrimSpace(*account)}, false, stdout, stderr)
}

func runTiers(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("tiers", stderr)
	cf := addClientFlags(fs)
	asJSON := fs.Bool("json", false, "print raw JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := cf.client().call(context.Background(), "stake_getTiers", nil, false)
	if err != nil {
		return printError(stderr, err)
	}
	if *asJSON {
		writeResult(stdout, result)
		return 0
	}
	var tiers []rpc.TierResult
	if err := json.Unmarshal(result, &tiers); err != nil {
		return printError(stderr, fmt.Errorf("decode tiers: %w", err))
	}
	table := tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"Duration units", "Reward bps", "Reward %"})
	for _, tier := range tiers {
		table.Append([]string{
			strconv.FormatUint(uint64(tier.DurationUnits), 10),
			strconv.FormatUint(uint64(tier.RewardBps), 10),
			strconv.FormatFloat(float64(tier.RewardBps)/100, 'f', 2, 64),
		})
	}
	table.Render()
	return 0
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	cf := addClientFlags(fs)
	account := fs.String("account", "", "filter by account")
	eventType := fs.String("type", "", "filter by event type")
	after := fs.Int64("after", 0, "only events after this sequence")
	limit := fs.Int("limit", 0, "maximum events to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{}
	if *account != "" {
		params["account"] = strings.TrimSpace(*account)
	}
	if *eventType != "" {
		params["type"] = strings.TrimSpace(*eventType)
	}
	if *after > 0 {
		params["after"] = *after
	}
	if *limit > 0 {
		params["limit"] = *limit
	}
	var payload interface{}
	if len(params) > 0 {
		payload = params
	}
	return callAndPrint(cf, "stake_listEvents", payload, false, stdout, stderr)
}

func normalizeAmount(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errors.New("amount is required")
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("amount must be a base-10 integer, got %q", value)
		}
	}
	trimmed = strings.TrimLeft(trimmed, "0")
	if trimmed == "" {
		return "", errors.New("amount must be greater than zero")
	}
	return trimmed, nil
}

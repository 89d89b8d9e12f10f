package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMux/cmd/util"
	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CallCmd sends requests to the endpoint and prints the answers
var CallCmd = &cobra.Command{
	Use:   "call <method> [payload]",
	Short: "Send a request to the endpoint",
	Long: `Send a request through a session and print the answer.
The method name decides about priority, batching and caching (e.g. users.getMe is
cached, auth.signIn is never batched).`,
	Args:     cobra.RangeArgs(1, 2),
	PreRunE:  setupClient,
	RunE:     runCall,
	PostRunE: teardownClient,
}

func init() {
	key := "repeat"
	CallCmd.Flags().Int(key, 1, util.WrapString("How many times to send the request"))

	key = "retry"
	CallCmd.Flags().Bool(key, false, util.WrapString("Wait for the backoff and retry once after a timeout or flood wait"))

	key = "metrics"
	CallCmd.Flags().Bool(key, false, util.WrapString("Print the client metrics after the last answer"))
}

func runCall(cmd *cobra.Command, args []string) error {
	method := args[0]
	var payload []byte
	if len(args) > 1 {
		payload = []byte(args[1])
	}

	s, err := rpcClient.Session("")
	if err != nil {
		return err
	}

	for i := 0; i < max(1, viper.GetInt("repeat")); i++ {
		start := time.Now()
		resp, err := s.Send(cmd.Context(), common.NewRequest(method, payload))

		retryable := errors.Is(err, common.ErrTimeout) || errors.Is(err, common.ErrRemoteOverload)
		if retryable && viper.GetBool("retry") {
			fmt.Printf("%s failed (%v), retrying in %s\n", method, err, s.Backoff(err))
			ctx, cancel := context.WithTimeout(cmd.Context(), clientConfig.Session.BackoffMax+s.Backoff(err))
			err = s.WaitRetry(ctx, err)
			cancel()
			if err == nil {
				start = time.Now()
				resp, err = s.Send(cmd.Context(), common.NewRequest(method, payload))
			}
		}

		if err != nil {
			return fmt.Errorf("%s failed after %s: %w", method, time.Since(start).Round(time.Microsecond), err)
		}
		fmt.Printf("%s -> %s %q (%s)\n", method, resp.MsgType, resp.Payload, time.Since(start).Round(time.Microsecond))
	}

	if viper.GetBool("metrics") {
		fmt.Println(rpcClient.Metrics().String())
	}
	return nil
}

// audiofork-client streams local audio files to an audio-fork gateway, one
// file per conversation role, and checks the gateway's health.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/AmmannChristian/go-audiofork/grpcclient"
)

// connectionFlags are shared by every subcommand.
type connectionFlags struct {
	addr       string
	plaintext  bool
	caFile     string
	certFile   string
	keyFile    string
	serverName string
	timeout    time.Duration

	token             string
	oauthTokenURL     string
	oauthClientID     string
	oauthClientSecret string
	oauthScopes       string

	dialOpts []grpc.DialOption
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&f.addr, "addr", "localhost:8086", "Gateway address")
	flags.BoolVar(&f.plaintext, "plaintext", false, "Connect without TLS")
	flags.StringVar(&f.caFile, "ca-file", "", "CA certificate used to verify the gateway")
	flags.StringVar(&f.certFile, "cert-file", "", "Client certificate for mTLS")
	flags.StringVar(&f.keyFile, "key-file", "", "Client key for mTLS")
	flags.StringVar(&f.serverName, "server-name", "", "Override the TLS server name")
	flags.DurationVar(&f.timeout, "timeout", time.Minute, "Deadline for the whole command")
	flags.StringVar(&f.token, "token", os.Getenv("AUDIOFORK_TOKEN"), "Bearer token (AUDIOFORK_TOKEN)")
	flags.StringVar(&f.oauthTokenURL, "oauth-token-url", "", "OAuth2 token endpoint for the client credentials flow")
	flags.StringVar(&f.oauthClientID, "oauth-client-id", "", "OAuth2 client ID")
	flags.StringVar(&f.oauthClientSecret, "oauth-client-secret", os.Getenv("AUDIOFORK_CLIENT_SECRET"), "OAuth2 client secret (AUDIOFORK_CLIENT_SECRET)")
	flags.StringVar(&f.oauthScopes, "oauth-scopes", "", "Space-separated OAuth2 scopes")
}

func (f *connectionFlags) dial(compress bool) (*grpc.ClientConn, error) {
	b := grpcclient.NewBuilder().
		WithAddress(f.addr).
		WithBearerToken(f.token).
		WithCompression(compress).
		WithDialOptions(f.dialOpts...)

	if f.oauthTokenURL != "" {
		b.WithOAuth2(f.oauthTokenURL, f.oauthClientID, f.oauthClientSecret, f.oauthScopes)
	}
	if f.plaintext {
		b.WithPlaintext()
	} else {
		b.WithTLS(f.caFile, f.certFile, f.keyFile, f.serverName)
	}
	return b.Build()
}

// newRootCmd builds the command tree. dialOpts are appended to every
// connection.
func newRootCmd(dialOpts ...grpc.DialOption) *cobra.Command {
	conn := &connectionFlags{dialOpts: dialOpts}

	root := &cobra.Command{
		Use:   "audiofork-client",
		Short: "Stream conversation audio to an audio-fork gateway",
		Long: `audiofork-client opens one fork stream per invocation and sends each
role's audio file as a sequence of chunks, printing the gateway's
acknowledgements as they arrive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	conn.register(root)

	root.AddCommand(newStreamCmd(conn))
	root.AddCommand(newHealthCmd(conn))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Package grpcclient builds client connections to the audio-fork gateway.
//
// Connections default to TLS 1.2+ with system roots. Callers can supply a
// custom CA or a client certificate for mTLS, attach a static bearer token
// or run the OAuth2 client-credentials flow, and opt into zstd compression.
//
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("gateway.example.com:8086").
//	    WithOAuth2(tokenURL, "client-id", "client-secret", "spark:all").
//	    WithTLS("/etc/certs/ca.crt", "", "", "").
//	    WithCompression(true).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	client := audiofork.NewConversationAudioClient(conn)
package grpcclient

// Package oauth2client supplies bearer tokens to gRPC clients.
//
// TokenManager runs the OAuth2 client-credentials flow, caches the token and
// refreshes it shortly before expiry. StaticToken wraps a token obtained out
// of band. Either one plugs into the client interceptors, which attach
// "authorization: Bearer <token>" to every outgoing call.
//
//	tm := oauth2client.NewTokenManager(
//	    "https://idbroker.example.com/idb/oauth2/v1/access_token",
//	    "client-id",
//	    "client-secret",
//	    "spark:all",
//	    oauth2client.WithLogger(logger),
//	)
//
//	conn, err := grpc.NewClient(
//	    "gateway:8086",
//	    grpc.WithUnaryInterceptor(oauth2client.UnaryClientInterceptor(tm)),
//	    grpc.WithStreamInterceptor(oauth2client.StreamClientInterceptor(tm)),
//	)
package oauth2client

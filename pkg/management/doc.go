// Package management is a client for the RabbitMQ management HTTP API.
//
// It covers what topic housekeeping needs: listing the broker's exchanges,
// deleting them, and selecting them with regular-expression filters over
// exchange fields.
//
// Example usage:
//
//	client, err := management.NewClient(management.Config{
//		ServerURL: "http://localhost:15672",
//		Username:  "guest",
//		Password:  "guest",
//	})
//	if err != nil {
//		return err
//	}
//
//	exchanges, err := client.ListExchanges(ctx)
//	if err != nil {
//		return err
//	}
//	byName, _ := management.NameFilter("^camera", "i")
//	for _, e := range management.FindMatches(exchanges, byName) {
//		_ = client.DeleteExchange(ctx, e.VHost, e.Name)
//	}
package management

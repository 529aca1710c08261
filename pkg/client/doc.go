// Package client is the Go SDK for a campusvote server.
//
// It covers the whole voter flow and the read-only operator endpoints.
//
// # Voting
//
//	c, err := client.New("https://vote.example.edu")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	receipt, err := c.RequestOTP(ctx, "REG123")
//	// ... the voter reads the code from email or SMS ...
//	conf, err := c.ConfirmOTP(ctx, "REG123", "482913")
//
//	ballot, err := c.Ballot(ctx, conf.BallotToken)
//	res, err := c.Cast(ctx, conf.BallotToken, []client.Selection{
//	    {PositionID: ballot.Positions[0].ID, CandidateID: ballot.Candidates[0].ID},
//	})
//
// # Errors
//
// Every non-2xx response is returned as *APIError, carrying the server's
// machine-readable code:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == "RATE_LIMITED" {
//	    time.Sleep(apiErr.RetryAfter)
//	}
//
// # Audit
//
// Operators exchange the admin secret for a token, then query the ledger:
//
//	tok, err := c.AdminToken(ctx, secret)
//	admin, _ := client.New(base, client.WithAdminToken(tok))
//	ok, reason, err := admin.VerifyAudit(ctx)
package client

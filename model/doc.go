// Package model is a small catalog of well-known chat models with their
// pricing.
//
// The /llm picker offers these ids when a provider's model listing endpoint
// is unreachable, and the terminal chat uses the pricing to print an
// estimated cost after each turn:
//
//	if m, ok := model.Lookup(cfg.DefaultModel.Model); ok {
//	    fmt.Printf("~$%.4f\n", m.Cost(result.Usage))
//	}
//
// Any model id the provider accepts can be configured; the catalog is not a
// whitelist.
package model

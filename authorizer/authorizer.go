// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package authorizer combines a token's blocks with verifier-supplied
// facts, rules, checks and policies, runs the rule engine, and
// produces an authorization verdict.
package authorizer

import (
	"context"
	"fmt"
	"time"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/biscuit-auth/biscuit-go/biscuit"
	"github.com/biscuit-auth/biscuit-go/block"
	"github.com/biscuit-auth/biscuit-go/datalog"
	"github.com/biscuit-auth/biscuit-go/format"
	"github.com/biscuit-auth/biscuit-go/sig"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

var logger = log.New("pkg", "authorizer")

// FailedCheck identifies one check that did not hold: which container
// it came from, its index there, and its rendered source. Block is nil
// for authorizer-local checks.
type FailedCheck struct {
	Block   *datalog.BlockID
	CheckID int
	Rule    string
}

func (f FailedCheck) String() string {
	if f.Block == nil {
		return fmt.Sprintf("authorizer check %d: %s", f.CheckID, f.Rule)
	}
	return fmt.Sprintf("block %d check %d: %s", uint32(*f.Block), f.CheckID, f.Rule)
}

// Verdict is the outcome of one Authorize run. Policy is the index of
// the first matching policy, nil if none matched.
type Verdict struct {
	Allowed      bool
	Policy       *int
	FailedChecks []FailedCheck
}

// Option configures an Authorizer at construction.
type Option func(*Authorizer)

// WithLimits overrides the default resource limits.
func WithLimits(limits datalog.Limits) Option {
	return func(a *Authorizer) { a.limits = limits }
}

// WithExtern registers an FFI callable under name.
func WithExtern(name string, fn datalog.ExternFunc) Option {
	return func(a *Authorizer) { a.ffi[name] = fn }
}

// Authorizer accumulates verifier-side inputs, then evaluates. It is
// not safe for concurrent use: Authorize mutates the internal world.
type Authorizer struct {
	token *biscuit.Biscuit

	facts     []block.Fact
	rules     []block.Rule
	checks    []block.Check
	policies  []block.Policy
	params    map[string]block.Term
	keyParams map[string]sig.PublicKey

	limits datalog.Limits
	ffi    datalog.FFIRegistry

	// evaluation state, populated by Authorize/Query
	symbols *format.SymbolTable
	keys    *format.PublicKeyTable
	world   *datalog.World
	trust   datalog.TrustContext
	elapsed time.Duration
}

// New creates an authorizer with no token attached; AddToken attaches
// one later.
func New(opts ...Option) *Authorizer {
	a := &Authorizer{
		params:    make(map[string]block.Term),
		keyParams: make(map[string]sig.PublicKey),
		limits:    datalog.DefaultLimits,
		ffi:       make(datalog.FFIRegistry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ForToken creates an authorizer with the token already attached.
func ForToken(token *biscuit.Biscuit, opts ...Option) *Authorizer {
	a := New(opts...)
	a.token = token
	return a
}

// AddToken attaches a verified token. The slot holds one token; a
// second AddToken is an error.
func (a *Authorizer) AddToken(token *biscuit.Biscuit) error {
	if a.token != nil {
		return bisckerr.New(bisckerr.KindLogic, bisckerr.CodeAuthorizerNotEmpty, "authorizer already holds a token")
	}
	a.token = token
	return nil
}

// Fact adds an authorizer-local fact.
func (a *Authorizer) Fact(f block.Fact) *Authorizer {
	a.facts = append(a.facts, f)
	return a
}

// Rule adds an authorizer-local rule.
func (a *Authorizer) Rule(r block.Rule) *Authorizer {
	a.rules = append(a.rules, r)
	return a
}

// Check adds an authorizer-local check.
func (a *Authorizer) Check(c block.Check) *Authorizer {
	a.checks = append(a.checks, c)
	return a
}

// Policy appends a policy; policies evaluate in insertion order.
func (a *Authorizer) Policy(p block.Policy) *Authorizer {
	a.policies = append(a.policies, p)
	return a
}

// Set binds a named term parameter for the authorizer's own
// facts/rules/checks/policies.
func (a *Authorizer) Set(name string, value block.Term) *Authorizer {
	a.params[name] = value
	return a
}

// SetPublicKey binds a named public key parameter.
func (a *Authorizer) SetPublicKey(name string, pk sig.PublicKey) *Authorizer {
	a.keyParams[name] = pk
	return a
}

// Authorize builds the world from the token's blocks plus the
// authorizer's own inputs, runs it to a fixed point, evaluates every
// check in order (authority, then blocks, then authorizer) and then
// the policies. A failed check is a verdict datum, not an evaluator
// error; the returned error is the Logic error matching the verdict.
func (a *Authorizer) Authorize(ctx context.Context) (*Verdict, error) {
	if err := a.run(ctx); err != nil {
		return nil, err
	}

	verdict := &Verdict{}

	// checks, in container order
	compiler := a.compiler()
	for blockID, blk := range a.tokenBlocks() {
		for checkID, check := range blk.Checks {
			check = a.scopedCheck(check, blk, datalog.BlockID(blockID))
			ok, err := datalog.EvaluateCheck(a.world, check, a.trust)
			if err != nil {
				return nil, err
			}
			if !ok {
				id := datalog.BlockID(blockID)
				verdict.FailedChecks = append(verdict.FailedChecks, FailedCheck{
					Block:   &id,
					CheckID: checkID,
					Rule:    check.String(a.symbols),
				})
			}
		}
	}
	for checkID, c := range a.checks {
		check, err := compiler.Check(c)
		if err != nil {
			return nil, err
		}
		check = withCheckOrigin(check, datalog.AuthorizerOrigin)
		ok, err := datalog.EvaluateCheck(a.world, check, a.trust)
		if err != nil {
			return nil, err
		}
		if !ok {
			verdict.FailedChecks = append(verdict.FailedChecks, FailedCheck{
				CheckID: checkID,
				Rule:    check.String(a.symbols),
			})
		}
	}

	// policies, first match decides
	for i, p := range a.policies {
		policy, err := compiler.Policy(p)
		if err != nil {
			return nil, err
		}
		for qi := range policy.Queries {
			policy.Queries[qi].Origin = datalog.AuthorizerOrigin
		}
		matched, err := datalog.EvaluatePolicy(a.world, policy, a.trust)
		if err != nil {
			return nil, err
		}
		if matched {
			index := i
			verdict.Policy = &index
			verdict.Allowed = policy.Kind == datalog.PolicyAllow
			break
		}
	}

	verdict.Allowed = verdict.Allowed && len(verdict.FailedChecks) == 0
	if verdict.Allowed {
		logger.Debug("authorization succeeded", "policy", *verdict.Policy)
		return verdict, nil
	}
	if verdict.Policy == nil {
		return verdict, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeNoMatchingPolicy, "no policy matched").WithPayload(verdict)
	}
	return verdict, bisckerr.New(bisckerr.KindLogic, bisckerr.CodeUnauthorized, "authorization denied").WithPayload(verdict)
}

// Query compiles rule and runs it standalone against the accumulated
// world, subject to the same limits as Authorize. The world is built
// on first use, so Query works before or after Authorize.
func (a *Authorizer) Query(ctx context.Context, rule block.Rule) ([]datalog.Fact, error) {
	if err := a.run(ctx); err != nil {
		return nil, err
	}
	compiled, err := a.compiler().Rule(rule)
	if err != nil {
		return nil, err
	}
	compiled.Origin = datalog.AuthorizerOrigin
	return a.world.QueryRule(compiled, a.trust)
}

// run populates and fixes the world once per authorizer.
func (a *Authorizer) run(ctx context.Context) error {
	if a.world != nil {
		return nil
	}
	start := time.Now()

	if a.token != nil {
		a.symbols = a.token.Symbols().Clone()
		a.keys = a.token.KeyTable().Clone()
	} else {
		a.symbols = format.DefaultSymbolTable()
		a.keys = format.NewPublicKeyTable()
	}
	a.world = datalog.NewWorld(a.symbols, a.ffi)

	var rules []datalog.Rule

	for blockID, blk := range a.tokenBlocks() {
		id := datalog.BlockID(blockID)
		for _, f := range blk.Facts {
			a.world.AddFact(datalog.Fact{Predicate: f, Origin: datalog.NewOrigin(id)})
		}
		for _, r := range blk.Rules {
			r.Origin = id
			if len(r.Scope) == 0 {
				r.Scope = blk.Scopes
			}
			rules = append(rules, r)
		}
	}

	compiler := a.compiler()
	for _, f := range a.facts {
		compiled, err := compiler.Fact(f)
		if err != nil {
			return err
		}
		a.world.AddFact(datalog.Fact{Predicate: compiled, Origin: datalog.NewOrigin(datalog.AuthorizerOrigin)})
	}
	for _, r := range a.rules {
		compiled, err := compiler.Rule(r)
		if err != nil {
			return err
		}
		compiled.Origin = datalog.AuthorizerOrigin
		rules = append(rules, compiled)
	}

	if a.token != nil {
		a.trust = a.token.TrustContextWithKeys(a.keys)
	} else {
		a.trust = biscuit.AuthorizerTrust()
	}

	err := a.world.Run(ctx, rules, a.trust, a.limits)
	a.elapsed = time.Since(start)
	if err != nil {
		return errors.WithMessage(err, "world evaluation")
	}
	logger.Debug("world evaluation finished", "facts", a.world.Len(), "elapsed", a.elapsed)
	return nil
}

func (a *Authorizer) compiler() *block.Compiler {
	return &block.Compiler{
		Symbols:   a.symbols,
		Keys:      a.keys,
		Params:    a.params,
		KeyParams: a.keyParams,
	}
}

// tokenBlocks returns the token's parsed blocks, or nothing when no
// token is attached.
func (a *Authorizer) tokenBlocks() []*block.Block {
	if a.token == nil {
		return nil
	}
	return a.token.Blocks()
}

// scopedCheck stamps the producing block id on a token check and
// applies the block-wide default scope to queries that carry none.
func (a *Authorizer) scopedCheck(c datalog.Check, blk *block.Block, id datalog.BlockID) datalog.Check {
	queries := make([]datalog.Rule, len(c.Queries))
	for i, q := range c.Queries {
		q.Origin = id
		if len(q.Scope) == 0 {
			q.Scope = blk.Scopes
		}
		queries[i] = q
	}
	return datalog.Check{Kind: c.Kind, Queries: queries, Origin: id}
}

func withCheckOrigin(c datalog.Check, id datalog.BlockID) datalog.Check {
	for i := range c.Queries {
		c.Queries[i].Origin = id
	}
	c.Origin = id
	return c
}

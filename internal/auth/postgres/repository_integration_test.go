// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/auth/postgres"
)

var _ = Describe("Repositories", func() {
	var (
		ctx      context.Context
		accounts *postgres.AccountRepository
		tokens   *postgres.TokenRepository
		now      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		accounts = postgres.NewAccountRepository(pool, retrier)
		tokens = postgres.NewTokenRepository(pool, retrier)
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	AfterEach(func() {
		cleanup(ctx)
	})

	newAccount := func(email string, role auth.Role) *auth.Account {
		a, err := auth.NewAccount(email, "Test Person", role)
		Expect(err).NotTo(HaveOccurred())
		a.CreatedAt, a.UpdatedAt = now, now
		Expect(accounts.Create(ctx, a)).To(Succeed())
		return a
	}

	issue := func(a *auth.Account, ttl time.Duration) (string, *auth.ResetToken) {
		plain, hash, err := auth.GenerateResetToken()
		Expect(err).NotTo(HaveOccurred())
		tok, err := auth.NewResetToken(a.ID, a.Role, auth.PurposeSetup, hash, now, ttl)
		Expect(err).NotTo(HaveOccurred())
		Expect(tokens.Upsert(ctx, tok)).To(Succeed())
		return plain, tok
	}

	Describe("AccountRepository", func() {
		It("round-trips an account and looks it up case-insensitively by role", func() {
			a := newAccount("ann@example.com", auth.RoleEmployee)

			got, err := accounts.GetByEmail(ctx, "ANN@example.com", auth.RoleEmployee)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(a.ID))
			Expect(got.PasswordHash).To(BeNil())

			_, err = accounts.GetByEmail(ctx, "ann@example.com", auth.RoleEmployer)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("rejects a duplicate email within a role", func() {
			newAccount("dup@example.com", auth.RoleEmployer)

			again, err := auth.NewAccount("DUP@example.com", "Other", auth.RoleEmployer)
			Expect(err).NotTo(HaveOccurred())
			Expect(accounts.Create(ctx, again)).To(MatchError(auth.ErrDuplicateAccount))
		})

		It("persists login state", func() {
			a := newAccount("state@example.com", auth.RoleEmployee)
			_, issued := issue(a, time.Hour)
			_, err := tokens.Consume(ctx, auth.ConsumeRequest{
				TokenHash: issued.TokenHash, Role: a.Role, At: now, PasswordHash: "$argon2id$x",
			})
			Expect(err).NotTo(HaveOccurred())

			lockedUntil := now.Add(time.Minute)
			Expect(accounts.RecordLoginFailure(ctx, a.ID, 3, &lockedUntil, now)).To(Succeed())
			got, err := accounts.GetByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.FailedAttempts).To(Equal(3))
			Expect(got.LockedUntil.Equal(lockedUntil)).To(BeTrue())

			Expect(accounts.RecordLogin(ctx, a.ID, now)).To(Succeed())
			got, err = accounts.GetByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.HasPassword()).To(BeTrue())
			Expect(*got.PasswordHash).To(Equal("$argon2id$x"))
			Expect(got.LastLoginAt.Equal(now)).To(BeTrue())
			Expect(got.FailedAttempts).To(BeZero())
			Expect(got.LockedUntil).To(BeNil())
		})

		It("does not let a stale hash upgrade undo a reset", func() {
			a := newAccount("upgrade@example.com", auth.RoleEmployee)
			_, first := issue(a, time.Hour)
			_, err := tokens.Consume(ctx, auth.ConsumeRequest{
				TokenHash: first.TokenHash, Role: a.Role, At: now, PasswordHash: "$2a$legacy",
			})
			Expect(err).NotTo(HaveOccurred())

			_, second := issue(a, time.Hour)
			_, err = tokens.Consume(ctx, auth.ConsumeRequest{
				TokenHash: second.TokenHash, Role: a.Role, At: now, PasswordHash: "$argon2id$reset",
			})
			Expect(err).NotTo(HaveOccurred())

			replaced, err := accounts.UpgradePasswordHash(ctx, a.ID, "$2a$legacy", "$argon2id$stale", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(replaced).To(BeFalse())

			got, err := accounts.GetByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*got.PasswordHash).To(Equal("$argon2id$reset"))
		})
	})

	Describe("TokenRepository", func() {
		It("keeps one token per account", func() {
			a := newAccount("one@example.com", auth.RoleEmployer)
			_, first := issue(a, time.Hour)
			_, second := issue(a, time.Hour)

			_, err := tokens.GetByTokenHash(ctx, first.TokenHash)
			Expect(err).To(MatchError(auth.ErrNotFound))

			got, err := tokens.GetByAccount(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.TokenHash).To(Equal(second.TokenHash))
		})

		It("consumes a token once and writes the password", func() {
			a := newAccount("consume@example.com", auth.RoleEmployee)
			_, tok := issue(a, time.Hour)
			req := auth.ConsumeRequest{TokenHash: tok.TokenHash, Role: auth.RoleEmployee, At: now, PasswordHash: "$argon2id$new"}

			id, err := tokens.Consume(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(a.ID))

			got, err := accounts.GetByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*got.PasswordHash).To(Equal("$argon2id$new"))

			_, err = tokens.Consume(ctx, req)
			Expect(err).To(MatchError(auth.ErrTokenInvalid))
		})

		It("refuses tokens with the wrong role or at expiry", func() {
			a := newAccount("refuse@example.com", auth.RoleEmployee)
			_, tok := issue(a, time.Hour)

			_, err := tokens.Consume(ctx, auth.ConsumeRequest{
				TokenHash: tok.TokenHash, Role: auth.RoleEmployer, At: now, PasswordHash: "h",
			})
			Expect(err).To(MatchError(auth.ErrTokenInvalid))

			_, err = tokens.Consume(ctx, auth.ConsumeRequest{
				TokenHash: tok.TokenHash, Role: auth.RoleEmployee, At: tok.ExpiresAt, PasswordHash: "h",
			})
			Expect(err).To(MatchError(auth.ErrTokenInvalid))

			got, err := accounts.GetByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(BeNil())
		})

		It("lets exactly one of many concurrent consumers win", func() {
			a := newAccount("race@example.com", auth.RoleEmployer)
			_, tok := issue(a, time.Hour)

			const consumers = 16
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				wins    int
				invalid int
			)
			for range consumers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := tokens.Consume(ctx, auth.ConsumeRequest{
						TokenHash: tok.TokenHash, Role: auth.RoleEmployer, At: now, PasswordHash: "$argon2id$race",
					})
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
						return
					}
					Expect(err).To(MatchError(auth.ErrTokenInvalid))
					invalid++
				}()
			}
			wg.Wait()

			Expect(wins).To(Equal(1))
			Expect(invalid).To(Equal(consumers - 1))
		})

		It("purges expired tokens only", func() {
			live := newAccount("live@example.com", auth.RoleEmployee)
			dead := newAccount("dead@example.com", auth.RoleEmployee)
			issue(live, time.Hour)
			issue(dead, time.Minute)

			n, err := tokens.PurgeExpired(ctx, now.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = tokens.GetByAccount(ctx, live.ID)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})

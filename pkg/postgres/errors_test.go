package postgres_test

import (
	"fmt"
	"net"

	"github.com/jackc/pgconn"

	"github.com/lawrencejones/supamigrate/pkg/migration"
	"github.com/lawrencejones/supamigrate/pkg/postgres"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Classify", func() {
	It("returns nil for nil", func() {
		Expect(postgres.Classify(nil)).To(BeNil())
	})

	table.DescribeTable("server errors",
		func(code string, kind migration.Kind) {
			err := postgres.Classify(fmt.Errorf("wrapped: %w", &pgconn.PgError{
				Code:    code,
				Message: "server said no",
			}))

			failure, ok := migration.AsFailure(err)
			Expect(ok).To(BeTrue())
			Expect(failure.Kind).To(Equal(kind))
			Expect(failure.Code).To(Equal(code))
			Expect(err.Error()).To(ContainSubstring("server said no"))
		},
		table.Entry("invalid password", "28P01", migration.AuthenticationError),
		table.Entry("insufficient privilege", "42501", migration.AuthenticationError),
		table.Entry("admin shutdown", "57P01", migration.ConnectionError),
		table.Entry("connection failure", "08006", migration.ConnectionError),
		table.Entry("undefined column", "42703", migration.ExecutionError),
		table.Entry("undefined function", "42883", migration.ExecutionError),
		table.Entry("syntax error", "42601", migration.ExecutionError),
	)

	It("treats undefined_function as a missing procedure", func() {
		err := postgres.Classify(&pgconn.PgError{Code: "42883"})
		Expect(migration.IsFunctionNotFound(err)).To(BeTrue())
	})

	It("treats network errors as connection failures", func() {
		err := postgres.Classify(&net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("connection refused")})
		Expect(migration.KindOf(err)).To(Equal(migration.ConnectionError))
		Expect(err.Error()).To(ContainSubstring("connection refused"))
	})
})

package postgrest_test

import (
	"context"
	"net/http"
	"time"

	"github.com/lawrencejones/supamigrate/pkg/migration"
	"github.com/lawrencejones/supamigrate/pkg/postgrest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	. "github.com/onsi/gomega/gstruct"
	. "github.com/onsi/gomega/types"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		cancel func()
		server *ghttp.Server
		opts   postgrest.Options
		client *postgrest.Client
	)

	var (
		key   = "service-key"
		table = migration.NotificationPreferences.Table
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		server = ghttp.NewServer()
		opts = postgrest.Options{URL: server.URL(), ServiceKey: key, Timeout: time.Second}
	})

	JustBeforeEach(func() {
		var err error
		client, err = postgrest.New(logger, opts)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cancel()
		server.Close()
	})

	failureMatching := func(fields Fields) GomegaMatcher {
		return PointTo(MatchFields(IgnoreExtras, fields))
	}

	Describe("New", func() {
		It("requires a URL", func() {
			_, err := postgrest.New(logger, postgrest.Options{ServiceKey: key})
			Expect(err).To(MatchError("no API URL configured"))
		})

		It("requires a service key", func() {
			_, err := postgrest.New(logger, postgrest.Options{URL: server.URL()})
			Expect(err).To(MatchError("no service key configured"))
		})

		It("rejects URLs that aren't http", func() {
			_, err := postgrest.New(logger, postgrest.Options{URL: "ftp://example.com", ServiceKey: key})
			Expect(err).To(MatchError(ContainSubstring("invalid API URL scheme")))
		})
	})

	Describe("Executor.ExecSQL", func() {
		var (
			result []byte
			err    error
		)

		JustBeforeEach(func() {
			result, err = postgrest.NewExecutor(client).ExecSQL(ctx, migration.NotificationPreferences.SQL())
		})

		Context("when the function succeeds", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/rest/v1/rpc/exec_sql"),
					ghttp.VerifyHeaderKV("apikey", key),
					ghttp.VerifyHeaderKV("Authorization", "Bearer "+key),
					ghttp.VerifyContentType("application/json"),
					ghttp.VerifyJSONRepresenting(map[string]interface{}{
						"query": migration.NotificationPreferences.SQL(),
					}),
					ghttp.RespondWith(http.StatusOK, `{"status":"ok"}`),
				))
			})

			It("returns the raw payload", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result).To(MatchJSON(`{"status":"ok"}`))
			})

			It("tags the request with an id", func() {
				Expect(server.ReceivedRequests()).To(HaveLen(1))
				Expect(server.ReceivedRequests()[0].Header.Get("X-Request-Id")).NotTo(BeEmpty())
			})
		})

		Context("when the function returns void", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusNoContent, nil))
			})

			It("returns JSON null", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(result)).To(Equal("null"))
			})
		})

		Context("when exec_sql isn't registered", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{
					"code": "PGRST202",
					"details": "Searched for the function public.exec_sql with parameter query",
					"hint": null,
					"message": "Could not find the function public.exec_sql(query) in the schema cache"
				}`))
			})

			It("fails with a function not found error", func() {
				Expect(migration.IsFunctionNotFound(err)).To(BeTrue())
				Expect(err).To(failureMatching(Fields{
					"Kind":   Equal(migration.ExecutionError),
					"Status": Equal(http.StatusNotFound),
					"Code":   Equal("PGRST202"),
				}))
				Expect(err.Error()).To(ContainSubstring("Could not find the function public.exec_sql(query)"))
			})
		})

		Context("when an older server answers with a bare 404", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, ""))
			})

			It("still reports the function as missing", func() {
				Expect(migration.IsFunctionNotFound(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("Not Found"))
			})
		})

		Context("when the key is rejected", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, `{"message":"Invalid API key","hint":"Double check your Supabase anon or service_role API key."}`))
			})

			It("fails with an authentication error carrying the server message", func() {
				Expect(migration.KindOf(err)).To(Equal(migration.AuthenticationError))
				Expect(err.Error()).To(ContainSubstring("Invalid API key"))
			})
		})

		Context("when the JWT is rejected", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"code":"PGRST301","message":"JWSError JWSInvalidSignature"}`))
			})

			It("fails with an authentication error", func() {
				Expect(migration.KindOf(err)).To(Equal(migration.AuthenticationError))
			})
		})

		Context("when the SQL is invalid", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"code":"42601","message":"syntax error at or near \"ALTR\""}`))
			})

			It("fails with an execution error", func() {
				Expect(err).To(failureMatching(Fields{
					"Kind":    Equal(migration.ExecutionError),
					"Code":    Equal("42601"),
					"Message": ContainSubstring("syntax error"),
				}))
			})
		})

		Context("when the server is unreachable", func() {
			BeforeEach(func() {
				server.Close()
			})

			It("fails with a connection error", func() {
				Expect(migration.KindOf(err)).To(Equal(migration.ConnectionError))
			})
		})

		Context("when the server hangs past the timeout", func() {
			BeforeEach(func() {
				opts.Timeout = 50 * time.Millisecond
				server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(250 * time.Millisecond)
				})
			})

			It("fails with a connection error", func() {
				Expect(migration.KindOf(err)).To(Equal(migration.ConnectionError))
			})
		})
	})

	Describe("Executor.Select", func() {
		var (
			rows []map[string]interface{}
			err  error
		)

		JustBeforeEach(func() {
			rows, err = postgrest.NewExecutor(client).Select(
				ctx, table, migration.NotificationPreferences.ColumnNames(), 1)
		})

		Context("with a row", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("GET", "/rest/v1/user_profiles"),
					ghttp.VerifyFormKV("select", "notification_email,notification_browser"),
					ghttp.VerifyFormKV("limit", "1"),
					ghttp.VerifyHeaderKV("apikey", key),
					ghttp.RespondWith(http.StatusOK, `[{"notification_email":true,"notification_browser":false}]`),
				))
			})

			It("decodes the row", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(ConsistOf(
					map[string]interface{}{"notification_email": true, "notification_browser": false},
				))
			})

			It("doesn't name the default schema", func() {
				Expect(server.ReceivedRequests()[0].Header.Get("Accept-Profile")).To(BeEmpty())
			})
		})

		Context("with an empty table", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `[]`))
			})

			It("returns an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).NotTo(BeNil())
				Expect(rows).To(BeEmpty())
			})
		})

		Context("when columns don't exist yet", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest,
					`{"code":"42703","details":null,"hint":null,"message":"column user_profiles.notification_email does not exist"}`))
			})

			It("fails with an undefined column error", func() {
				Expect(migration.IsUndefinedColumn(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("notification_email does not exist"))
			})
		})

		Context("when the table lives in another schema", func() {
			BeforeEach(func() {
				table = migration.Table{Schema: "app", Name: "user_profiles"}
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyHeaderKV("Accept-Profile", "app"),
					ghttp.RespondWith(http.StatusOK, `[]`),
				))
			})

			AfterEach(func() {
				table = migration.NotificationPreferences.Table
			})

			It("selects the profile", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})
})

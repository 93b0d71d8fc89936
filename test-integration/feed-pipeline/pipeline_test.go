package integration

import (
	"net/http"
	"os"
	"time"

	"github.com/mmcdole/gofeed"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/catalog-feed-server/internal/status"
	"github.com/stacklok/catalog-feed-server/test-integration/feed-pipeline/helpers"
)

var _ = Describe("Feed Generation", Label("generation"), func() {
	var (
		tempDir      string
		productsPath string
		configPath   string
		serverHelper *helpers.ServerTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("feed-pipeline-")
		productsPath = helpers.WriteProductsFile(tempDir, helpers.CreateTestProducts(250))
		configPath = helpers.WriteConfigYAML(helpers.ConfigFixture{
			Dir:          tempDir,
			ProductsPath: productsPath,
			Markets:      helpers.DefaultMarkets,
			BatchSize:    100,
		})

		var err error
		serverHelper, err = helpers.NewServerTestHelper(ctx, configPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(serverHelper.StopServer()).To(Succeed())
		cleanupTempDir(tempDir)
	})

	Context("with 250 products, two markets and batches of 100", func() {
		It("publishes one complete feed file per market", func() {
			st := serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)
			Expect(st.State.ProductCount).To(Equal(250))
			Expect(st.State.RecentProductCount).To(Equal(250))
			Expect(st.State.Checkpoint).To(BeNil())

			dests, err := serverHelper.GetDestinations(true)
			Expect(err).NotTo(HaveOccurred())
			Expect(dests).To(HaveLen(2))

			for _, dest := range dests {
				Expect(dest.Published).To(BeTrue())
				Expect(dest.Feed).NotTo(BeNil())
				Expect(dest.Feed.Items).To(Equal(250))
				Expect(dest.PublicURL).To(HavePrefix("https://cdn.example.com/feeds/"))

				_, err := os.Stat(dest.TempPath)
				Expect(os.IsNotExist(err)).To(BeTrue(), "temp file is renamed over the final file")

				f, err := os.Open(dest.FinalPath)
				Expect(err).NotTo(HaveOccurred())
				feed, err := gofeed.NewParser().Parse(f)
				Expect(f.Close()).To(Succeed())
				Expect(err).NotTo(HaveOccurred())
				Expect(feed.Items).To(HaveLen(250))
				Expect(feed.Items[0].Extensions["g"]["id"][0].Value).To(Equal("1"))
				Expect(feed.Items[249].Extensions["g"]["id"][0].Value).To(Equal("250"))
			}
		})

		It("renders prices in the currency of each market", func() {
			serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)

			dests, err := serverHelper.GetDestinations(false)
			Expect(err).NotTo(HaveOccurred())
			for _, dest := range dests {
				data, err := os.ReadFile(dest.FinalPath)
				Expect(err).NotTo(HaveOccurred())

				currency := map[string]string{"EU": "EUR", "US": "USD"}[string(dest.Market)]
				Expect(string(data)).To(ContainSubstring(" " + currency + "</g:price>"))
				Expect(string(data)).To(ContainSubstring("Description of product 1"))
				Expect(string(data)).NotTo(ContainSubstring("&lt;b&gt;"), "descriptions are reduced to plain text")
			}
		})

		It("regenerates when the catalog is marked dirty", func() {
			serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)

			helpers.WriteProductsFile(tempDir, helpers.CreateTestProducts(120))
			code, err := serverHelper.Post("/v1/feed/dirty")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusAccepted))

			Eventually(func() (int, error) {
				st, err := serverHelper.GetStatus()
				if err != nil {
					return 0, err
				}
				if st.State.Status != status.PhaseGenerated {
					return 0, nil
				}
				return st.State.RecentProductCount, nil
			}, 20*time.Second, 50*time.Millisecond).Should(Equal(120))
		})

		It("accepts a manual trigger while generated", func() {
			serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)

			code, err := serverHelper.Post("/v1/feed/generate")
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(http.StatusAccepted))

			st := serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)
			Expect(st.State.RecentProductCount).To(Equal(250))
		})

		It("keeps the destinations across restarts", func() {
			serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)
			before, err := serverHelper.GetDestinations(false)
			Expect(err).NotTo(HaveOccurred())
			st, err := serverHelper.GetStatus()
			Expect(err).NotTo(HaveOccurred())

			Expect(serverHelper.StopServer()).To(Succeed())
			Expect(serverHelper.StartServer()).To(Succeed())
			serverHelper.WaitForServerReady(10 * time.Second)

			after, err := serverHelper.GetDestinations(false)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))

			restarted, err := serverHelper.GetStatus()
			Expect(err).NotTo(HaveOccurred())
			Expect(restarted.FeedID).To(Equal(st.FeedID))
			Expect(restarted.State.RecentProductCount).To(Equal(250))
		})
	})
})

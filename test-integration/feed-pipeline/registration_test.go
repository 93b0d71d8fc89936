package integration

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/catalog-feed-server/internal/status"
	"github.com/stacklok/catalog-feed-server/test-integration/feed-pipeline/helpers"
)

var _ = Describe("Feed Registration", Label("registration"), func() {
	var (
		tempDir      string
		remote       *helpers.FakeCatalogService
		serverHelper *helpers.ServerTestHelper
	)

	registeredIDs := func() map[string]string {
		dests, err := serverHelper.GetDestinations(false)
		Expect(err).NotTo(HaveOccurred())
		out := make(map[string]string, len(dests))
		for _, d := range dests {
			out[string(d.Market)] = d.RegisteredFeedID
		}
		return out
	}

	BeforeEach(func() {
		tempDir = createTempDir("feed-registration-")
		remote = helpers.NewFakeCatalogService()

		productsPath := helpers.WriteProductsFile(tempDir, helpers.CreateTestProducts(30))
		configPath := helpers.WriteConfigYAML(helpers.ConfigFixture{
			Dir:              tempDir,
			ProductsPath:     productsPath,
			Markets:          helpers.DefaultMarkets,
			BatchSize:        10,
			RemoteEndpoint:   remote.Endpoint(),
			RegisterInterval: "1s",
		})

		var err error
		serverHelper, err = helpers.NewServerTestHelper(ctx, configPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(serverHelper.StopServer()).To(Succeed())
		remote.Close()
		cleanupTempDir(tempDir)
	})

	It("registers one feed profile per published destination", func() {
		serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)

		Eventually(func() int {
			registered := 0
			for _, id := range registeredIDs() {
				if id != "" {
					registered++
				}
			}
			return registered
		}, 20*time.Second, 100*time.Millisecond).Should(Equal(2))

		merchants := remote.Merchants()
		Expect(merchants).To(HaveLen(1))
		Expect(merchants[0].Name).To(Equal("Example Shop"))

		feeds := remote.Feeds()
		Expect(feeds).To(HaveLen(2))

		dests, err := serverHelper.GetDestinations(false)
		Expect(err).NotTo(HaveOccurred())
		locations := make([]string, 0, len(feeds))
		for _, f := range feeds {
			locations = append(locations, f.Location)
		}
		for _, d := range dests {
			Expect(locations).To(ContainElement(d.PublicURL))
		}
	})

	It("does not register duplicates on later runs or after a restart", func() {
		serverHelper.WaitForStatus(status.PhaseGenerated, 20*time.Second)
		Eventually(func() int { return len(remote.Feeds()) }, 20*time.Second, 100*time.Millisecond).Should(Equal(2))
		before := registeredIDs()

		// Let a few more recurring registration runs pass
		Consistently(func() int { return len(remote.Feeds()) }, 3*time.Second, 200*time.Millisecond).Should(Equal(2))

		Expect(serverHelper.StopServer()).To(Succeed())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)

		Consistently(func() int { return len(remote.Feeds()) }, 3*time.Second, 200*time.Millisecond).Should(Equal(2))
		Expect(remote.Merchants()).To(HaveLen(1))
		Expect(registeredIDs()).To(Equal(before))
	})
})

//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
	"github.com/eliteGoblin/focusd/app_guard/test/fixtures"
)

// noopRelauncher stands in for the guardian spawner.
type noopRelauncher struct{ calls int }

func (r *noopRelauncher) RequestRelaunch(ctx context.Context) error {
	r.calls++
	return nil
}

var _ = Describe("Enforcement pipeline", func() {
	var (
		tmpDir     string
		store      domain.RuleStore
		rules      *usecase.RuleService
		screen     *fixtures.ScriptedReader
		host       *fixtures.HostRecorder
		status     *infra.StatusFile
		relauncher *noopRelauncher
		manager    *daemon.Manager
	)

	build := func() {
		logger := zap.NewNop()
		m := metrics.New()

		transitions := infra.NewTransitionLog(screen, 5*time.Millisecond, logger)
		caps := infra.NewHostCapabilities(transitions, nil)
		monitor := usecase.NewForegroundMonitor(transitions, 2*time.Second, "com.focusd.appguard")
		interstitial := usecase.NewInterstitial(host, host, host, 30*time.Millisecond, logger, m)
		engine := usecase.NewEnforcementEngine(monitor, store, interstitial, caps, 2*time.Second, logger, m)

		status = infra.NewStatusFile(tmpDir)
		relauncher = &noopRelauncher{}
		manager = daemon.NewManager(daemon.LifecycleConfig{
			PollInterval:      10 * time.Millisecond,
			WakeLease:         time.Minute,
			HeartbeatInterval: time.Hour,
		}, engine, caps, nil, status, relauncher, logger, m)
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "appguard-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store = infra.NewFileRuleStore(tmpDir, zap.NewNop())
		rules = usecase.NewRuleService(store)
		screen = fixtures.NewScriptedReader("com.apple.finder")
		host = &fixtures.HostRecorder{}
		build()
	})

	AfterEach(func() {
		manager.Stop()
		os.RemoveAll(tmpDir)
	})

	renderedTargets := func() []string {
		var ids []string
		for _, v := range host.Rendered() {
			ids = append(ids, v.TargetID)
		}
		return ids
	}

	Describe("blocking a foreground app", func() {
		Context("when a timed rule is active", func() {
			It("should interrupt the app and send the user home", func() {
				_, err := rules.AddOrUpdate("com.example.game", "Game", 60)
				Expect(err).NotTo(HaveOccurred())
				Expect(manager.Start(context.Background())).To(Succeed())

				screen.SetFrontmost("com.example.game")

				Eventually(renderedTargets).WithTimeout(time.Second).Should(ContainElement("com.example.game"))
				Eventually(host.Terminated).WithTimeout(time.Second).Should(ContainElement("com.example.game"))
				Eventually(host.Homes).WithTimeout(time.Second).Should(BeNumerically(">=", 1))

				view := host.Rendered()[0]
				Expect(view.DisplayName).To(Equal("Game"))
				Expect(view.ExcludeFromHistory).To(BeTrue())
			})
		})

		Context("when the rule is paused", func() {
			It("should leave the app alone", func() {
				_, err := rules.AddOrUpdate("com.example.game", "Game", domain.PermanentDuration)
				Expect(err).NotTo(HaveOccurred())
				Expect(rules.Pause("com.example.game")).To(Succeed())
				Expect(manager.Start(context.Background())).To(Succeed())

				screen.SetFrontmost("com.example.game")

				Consistently(renderedTargets).WithDuration(200 * time.Millisecond).Should(BeEmpty())
			})
		})

		Context("when the app stays in front", func() {
			It("should interrupt once per entry", func() {
				_, err := rules.AddOrUpdate("com.example.social", "", domain.PermanentDuration)
				Expect(err).NotTo(HaveOccurred())
				Expect(manager.Start(context.Background())).To(Succeed())

				screen.SetFrontmost("com.example.social")

				Eventually(renderedTargets).WithTimeout(time.Second).Should(HaveLen(1))
				Consistently(renderedTargets).WithDuration(300 * time.Millisecond).Should(HaveLen(1))
			})
		})
	})

	Describe("status indicator", func() {
		It("should publish while running and disappear on stop", func() {
			Expect(manager.Start(context.Background())).To(Succeed())

			st, ok, err := status.Read()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(st.Running).To(BeTrue())
			Expect(st.State).To(Equal(domain.StateRunning))

			manager.Stop()

			_, ok, err = status.Read()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("unexpected teardown", func() {
		It("should keep the rules and resume enforcement", func() {
			_, err := rules.AddOrUpdate("com.example.game", "Game", 60)
			Expect(err).NotTo(HaveOccurred())
			before := store.List()
			Expect(manager.Start(context.Background())).To(Succeed())

			manager.HandleTeardown(context.Background())

			Expect(manager.State()).To(Equal(domain.StateRunning))
			Expect(relauncher.calls).To(Equal(1))
			Expect(store.List()).To(Equal(before))

			screen.SetFrontmost("com.example.game")
			Eventually(renderedTargets).WithTimeout(time.Second).Should(ContainElement("com.example.game"))
		})
	})

	Describe("missing foreground capability", func() {
		It("should run degraded and recover once granted", func() {
			_, err := rules.AddOrUpdate("com.example.game", "Game", domain.PermanentDuration)
			Expect(err).NotTo(HaveOccurred())
			screen.SetFrontmost("com.example.game")
			screen.SetError(infra.ErrCapabilityDenied)
			Expect(manager.Start(context.Background())).To(Succeed())

			Eventually(func() bool { return manager.Status().Degraded }).WithTimeout(time.Second).Should(BeTrue())
			Expect(host.Rendered()).To(BeEmpty())

			screen.SetError(nil)

			// Denied capability is rechecked every few seconds
			Eventually(func() bool { return manager.Status().Degraded }).WithTimeout(8 * time.Second).Should(BeFalse())
			Eventually(renderedTargets).WithTimeout(time.Second).Should(ContainElement("com.example.game"))
		})
	})

	Describe("encrypted rule store", func() {
		It("should share rules across connections with the same key", func() {
			keys := infra.NewFileKeyProvider(tmpDir)
			writer, err := infra.OpenEncryptedRuleStore(tmpDir, keys, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			defer writer.Close()

			_, err = usecase.NewRuleService(writer).AddOrUpdate("com.example.game", "Game", 30)
			Expect(err).NotTo(HaveOccurred())

			reader, err := infra.OpenEncryptedRuleStore(tmpDir, keys, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			defer reader.Close()

			rule, ok := reader.Find("com.example.game")
			Expect(ok).To(BeTrue())
			Expect(rule.DurationMinutes).To(Equal(30))
			Expect(filepath.Join(tmpDir, "rules.db")).To(BeAnExistingFile())
		})

		It("should drive the engine like the file store", func() {
			encrypted, err := infra.OpenEncryptedRuleStore(tmpDir, infra.NewFileKeyProvider(tmpDir), zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			defer encrypted.Close()

			store = encrypted
			rules = usecase.NewRuleService(store)
			build()

			_, err = rules.AddOrUpdate("com.example.game", "Game", 60)
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Start(context.Background())).To(Succeed())
			defer manager.Stop()

			screen.SetFrontmost("com.example.game")
			Eventually(renderedTargets).WithTimeout(time.Second).Should(ContainElement("com.example.game"))
		})
	})
})

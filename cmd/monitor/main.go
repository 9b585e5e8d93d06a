package main

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
)

var (
	addr        string
	interval    time.Duration
	learnerName string
	learnerAge  int
)

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Terminal dashboard for a running academy server",
	Long: `Polls the academy HTTP API and shows plans, their tasks, the decision log
and routing statistics. Type comma separated topics (or "theme: space") in
the prompt to create and run a plan.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runMonitor,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8787", "academy base URL")
	rootCmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	rootCmd.Flags().StringVar(&learnerName, "name", "", "learner name for launched plans")
	rootCmd.Flags().IntVar(&learnerAge, "age", 8, "learner age for launched plans")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMonitor(_ *cobra.Command, _ []string) error {
	c := newClient(addr)
	if err := c.waitHealth(30 * time.Second); err != nil {
		return fmt.Errorf("academy health check failed: %w", err)
	}
	learner := domain.LearnerContext{ID: "monitor", Name: learnerName, Age: learnerAge}

	app := tview.NewApplication()
	plansTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	plansTable.SetTitle("Plans (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	tasksView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tasksView.SetTitle("Tasks").SetBorder(true)

	decisionsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	decisionsView.SetTitle("Decisions").SetBorder(true)

	routingView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	routingView.SetTitle("Routing").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("Topics -> Academy: ")
	promptInput.SetBorder(true).SetTitle("Enter = create+execute plan")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+T focus plans",
		c.baseURL,
	))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(plansTable, 0, 3, false).
		AddItem(routingView, 8, 0, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tasksView, 0, 2, false).
		AddItem(decisionsView, 0, 2, false)
	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 2, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	// selectedPlanID and lastPlans are only touched on the UI goroutine.
	var selectedPlanID string
	var lastPlans []orchestrator.Status
	var detailsVersion uint64

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshDetailsAsync := func(planID string) {
		if strings.TrimSpace(planID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)
		go func(selected string, v uint64) {
			items, err := c.planDecisions(selected, 200)
			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedPlanID {
					return
				}
				if err != nil {
					decisionsView.SetText(fmt.Sprintf("error: %v", err))
					return
				}
				decisionsView.SetText(renderDecisions(items))
			})
		}(planID, version)
	}

	refresh := func() {
		list, err := c.listPlans()
		stats, statsErr := c.routingStats()
		app.QueueUpdateDraw(func() {
			if err != nil {
				plansTable.Clear()
				plansTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
				return
			}
			lastPlans = mergePlans(list)
			if selectedPlanID == "" && len(lastPlans) > 0 {
				selectedPlanID = lastPlans[0].Plan.ID
			}
			renderPlansTable(plansTable, lastPlans, selectedPlanID)
			for _, st := range lastPlans {
				if st.Plan.ID == selectedPlanID {
					tasksView.SetText(renderTasks(st.Plan))
				}
			}
			if statsErr != nil {
				routingView.SetText(fmt.Sprintf("error: %v", statsErr))
			} else {
				routingView.SetText(renderRoutingStats(stats))
			}
			refreshDetailsAsync(selectedPlanID)
		})
	}

	submitPrompt := func(prompt string) {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			return
		}
		setStatusUI("Creating plan...")
		promptInput.SetText("")
		go func(input string) {
			summary, err := c.launch(input, learner)
			if err != nil {
				setStatusAsync("Failed to run plan: " + err.Error())
				return
			}
			app.QueueUpdateDraw(func() {
				selectedPlanID = summary.PlanID
				statusView.SetText(fmt.Sprintf("Plan %s finished: %d/%d completed, stalled=%t",
					summary.PlanID, summary.Progress.Completed, summary.Progress.Total, summary.Stalled))
			})
			refresh()
		}(prompt)
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	plansTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastPlans) {
			return
		}
		selected := lastPlans[row-1]
		selectedPlanID = selected.Plan.ID
		tasksView.SetText(renderTasks(selected.Plan))
		decisionsView.SetText("Loading...")
		refreshDetailsAsync(selectedPlanID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(plansTable)
				setStatusUI("Focus -> plans")
				return nil
			}
			return event
		}
		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlT:
			app.SetFocus(plansTable)
			setStatusUI("Focus -> plans")
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			setStatusUI("Refreshing...")
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyRune:
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		refresh()
		for range ticker.C {
			refresh()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}
	return nil
}

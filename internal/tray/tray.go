package tray

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/capture-probe/internal/app"
	"github.com/petems/capture-probe/internal/counter"
	"github.com/petems/capture-probe/internal/media"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

var (
	policies  = []string{"first", "closest"}
	stopModes = []string{"teardown", "legacy"}
)

type UI struct {
	app        *app.App
	audioIndex int
	videoIndex int
	logPath    string
	version    string
	commit     string
	log        zerolog.Logger

	mu     sync.Mutex
	status string
	audio  *counter.Report
	video  *counter.Report

	// Menu items
	mStartStop *systray.MenuItem
	mCounts    *systray.MenuItem
	mPolicy    *systray.MenuItem
	mStopMode  *systray.MenuItem
}

// Options select the devices the tray captures from.
type Options struct {
	AudioIndex int
	VideoIndex int
	LogPath    string
	Version    string
	Commit     string
}

func New(application *app.App, opts Options, log zerolog.Logger) *UI {
	return &UI{
		app:        application,
		audioIndex: opts.AudioIndex,
		videoIndex: opts.VideoIndex,
		logPath:    opts.LogPath,
		version:    opts.Version,
		commit:     opts.Commit,
		log:        log,
		status:     "idle",
	}
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetStarting() {
	u.updateStatus("starting")
}

func (u *UI) SetCapturing() {
	u.mu.Lock()
	u.audio, u.video = nil, nil
	u.mu.Unlock()
	u.updateStatus("capturing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// SetReport records the latest progress line for its stream.
func (u *UI) SetReport(r counter.Report) {
	u.mu.Lock()
	switch r.Stream {
	case media.StreamAudio:
		u.audio = &r
	case media.StreamVideo:
		u.video = &r
	}
	u.mu.Unlock()
	u.refresh()
}

func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.refresh()
	systray.SetTooltip("Capture session probe")

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Capture", "Start the capture session")
	mCounts := systray.AddMenuItem("No samples", "Latest progress")
	mCounts.Disable()
	u.mu.Lock()
	u.mCounts = mCounts
	u.mu.Unlock()
	systray.AddSeparator()

	u.mPolicy = systray.AddMenuItem("Format Policy", "Select format negotiation policy")
	u.buildChoiceMenu(u.mPolicy, policies, u.app.Policy(), u.app.SetPolicy, "policy")

	u.mStopMode = systray.AddMenuItem("Stop Mode", "Select what stopping does")
	u.buildChoiceMenu(u.mStopMode, stopModes, u.app.StopMode(), u.app.SetStopMode, "stop_mode")

	systray.AddSeparator()
	mCopy := systray.AddMenuItem("Copy Device List", "Copy the device listing to the clipboard")
	mLogs := systray.AddMenuItem("Show Log Path", "Print the log file location")
	mAbout := systray.AddMenuItem("About", "About capture-probe")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mCopy, mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mCopy, mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleCapture()
		case <-mCopy.ClickedCh:
			u.copyDevices()
		case <-mLogs.ClickedCh:
			fmt.Println(u.logPath)
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildChoiceMenu(parent *systray.MenuItem, choices []string, current string, set func(string) error, field string) {
	items := make(map[string]*systray.MenuItem)

	for _, choice := range choices {
		item := parent.AddSubMenuItem(choice, "")
		if choice == current {
			item.Check()
		}
		items[choice] = item

		go func(c string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := set(c); err != nil {
					u.log.Error().Err(err).Str(field, c).Msg("Failed to change setting")
					continue
				}
				// Uncheck all other items
				for name, itm := range items {
					if name != c {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str(field, c).Msg("Changed setting")
			}
		}(choice, item)
	}
}

func (u *UI) toggleCapture() {
	if u.app.IsCapturing() {
		if err := u.app.StopCapture(); err != nil {
			u.log.Error().Err(err).Msg("Failed to stop capture")
		}
	} else if err := u.app.StartCapture(context.Background(), u.audioIndex, u.videoIndex); err != nil {
		u.log.Error().Err(err).Msg("Failed to start capture")
	}

	if u.app.IsCapturing() {
		u.mStartStop.SetTitle("Stop Capture")
	} else {
		u.mStartStop.SetTitle("Start Capture")
	}
}

func (u *UI) copyDevices() {
	var buf bytes.Buffer
	u.app.ListDevices().Write(&buf)
	if err := clipboard.WriteAll(buf.String()); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy device list")
		return
	}
	u.log.Info().Msg("Copied device list to clipboard")
}

func (u *UI) showAbout() {
	fmt.Printf("capture-probe %s (%s)\nAudio/video capture session probe\n", u.version, u.commit)
}

func (u *UI) onExit() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := u.app.Shutdown(ctx); err != nil {
		u.log.Error().Err(err).Msg("Shutdown error")
	}
}

func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()
	u.refresh()
}

// refresh sets the tray title with camera emoji, status indicator and counts.
func (u *UI) refresh() {
	u.mu.Lock()
	status, audio, video, mCounts := u.status, u.audio, u.video, u.mCounts
	u.mu.Unlock()

	systray.SetTitle(fmt.Sprintf("🎥 %s", emojiForStatus(status)))
	if mCounts != nil {
		mCounts.SetTitle(countsTitle(audio, video))
	}
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "capturing":
		return "🔴" // Red - capturing
	case "starting":
		return "🟡" // Yellow - building the pipeline
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

// countsTitle formats the latest reports for the counts menu item.
func countsTitle(audio, video *counter.Report) string {
	switch {
	case audio == nil && video == nil:
		return "No samples"
	case audio == nil:
		return fmt.Sprintf("V %d @ %.2f fps", video.Count, video.FPS)
	case video == nil:
		return fmt.Sprintf("A %d", audio.Count)
	}
	return fmt.Sprintf("V %d @ %.2f fps, A %d", video.Count, video.FPS, audio.Count)
}

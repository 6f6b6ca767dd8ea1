package ui

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/api"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/config"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/session"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/ui/cwidget"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/camera"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/capture"
	processing "github.com/madhavcvedpathak/YogaPoseMonitor2/processing/detector"
	"github.com/rs/zerolog/log"
)

const (
	modelLoadTimeout = 30 * time.Second
	reportFileName   = "yoga_session_report.pdf"
)

// ModelLoader prepares the pose model before the camera may be used.
type ModelLoader interface {
	Load(ctx context.Context) error
}

type Deps struct {
	Config    *config.Config
	Detector  ModelLoader
	Processor *processing.Processor
	Session   *session.Controller
	Client    *api.Client
}

type PoseApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config    *config.Config
	detector  ModelLoader
	processor *processing.Processor
	session   *session.Controller
	client    *api.Client
	camera    *camera.Controller

	quit chan struct{}

	dynamicSettings *fyne.Container
	staticSettings  *fyne.Container
	sessionControls *fyne.Container

	videoCanvas  *canvas.Image
	latencyLabel *widget.Label
	fpsLabel     *widget.Label
	poseLabel    *widget.Label
	statusLabel  *widget.Label

	cameraBtn     *widget.Button
	startBtn      *widget.Button
	endBtn        *widget.Button
	reportLink    *widget.Hyperlink
	saveReportBtn *widget.Button
}

func CreateApp(d Deps) *PoseApp {
	a := app.New()
	w := a.NewWindow("Yoga Pose Monitor")

	w.Resize(fyne.NewSize(1200, 600))

	pa := &PoseApp{
		fyneApp:   a,
		mainWin:   w,
		config:    d.Config,
		detector:  d.Detector,
		processor: d.Processor,
		session:   d.Session,
		client:    d.Client,
		quit:      make(chan struct{}),
	}

	pa.camera = camera.NewController(d.Config, d.Processor, camera.Callbacks{
		OnResize:       pa.onResize,
		OnActiveChange: pa.onCameraChange,
		OnClear:        pa.onClear,
	})

	return pa
}

func (a *PoseApp) Run() {
	a.dynamicSettings = container.NewVBox()

	sourceTypeSelect := widget.NewSelect(config.SourcesList[:], func(s string) {
		a.config.SetSource(config.SourceType(s))
		a.refreshSettingsUI(s)
	})

	settingsLabel := widget.NewLabelWithStyle("Configuration", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	a.videoCanvas = canvas.NewImageFromImage(nil)
	a.videoCanvas.FillMode = canvas.ImageFillContain
	a.videoCanvas.SetMinSize(fyne.NewSize(640, 480))

	a.latencyLabel = widget.NewLabel(a.formatLatency(0))
	a.fpsLabel = widget.NewLabel(a.formatFPS(0))
	a.poseLabel = widget.NewLabelWithStyle(processing.NoPersonLabel, fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	a.statusLabel = widget.NewLabel("Loading pose model...")
	a.statusLabel.Wrapping = fyne.TextWrapWord

	videoContainer := container.NewBorder(
		container.NewHBox(a.fpsLabel, widget.NewSeparator(), a.latencyLabel, widget.NewSeparator(), a.poseLabel),
		a.statusLabel, nil, nil,
		a.videoCanvas,
	)

	a.cameraBtn = widget.NewButtonWithIcon("Start Camera", theme.MediaVideoIcon(), a.toggleCamera)
	a.cameraBtn.Disable()

	a.setupSessionControls()
	a.setupConfigSettings()

	sidebar := container.NewVBox(
		settingsLabel,
		widget.NewSeparator(),
		widget.NewLabel("Source Type:"),
		sourceTypeSelect,
		widget.NewSeparator(),
		a.dynamicSettings,
		a.staticSettings,
		widget.NewSeparator(),
		a.cameraBtn,
		a.sessionControls,
	)

	split := container.NewHSplit(
		container.NewPadded(container.NewVScroll(sidebar)),
		container.NewPadded(videoContainer),
	)
	split.SetOffset(0.3)

	a.mainWin.SetContent(split)

	sourceTypeSelect.SetSelected(string(a.config.GetSource()))

	a.client.OnStatus(a.setStatus)
	a.session.OnChange(a.onSessionChange)

	a.mainWin.SetCloseIntercept(func() {
		a.config.SaveByDefault()
		a.mainWin.Close()
	})

	go a.loadModel()
	go a.runPlayerLoop()
	go a.runStatLoop()

	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()

	close(a.quit)
	a.shutdown()
}

func (a *PoseApp) shutdown() {
	if a.session.Active() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.session.End(ctx)
	}
	a.session.Close()

	a.camera.Disable()
}

func (a *PoseApp) setStatus(s string) {
	fyne.Do(func() {
		a.statusLabel.SetText(s)
	})
}

func (a *PoseApp) loadModel() {
	ctx, cancel := context.WithTimeout(context.Background(), modelLoadTimeout)
	defer cancel()

	err := a.detector.Load(ctx)

	fyne.Do(func() {
		if err != nil {
			log.Error().Err(err).Msg("loading pose model")
			a.statusLabel.SetText("Model load failed: " + err.Error())
			dialog.ShowError(err, a.mainWin)
			return
		}
		a.statusLabel.SetText("Pose model loaded")
		a.cameraBtn.Enable()
	})
}

func (a *PoseApp) toggleCamera() {
	a.cameraBtn.Disable()

	go func() {
		_, err := a.camera.Enable()

		fyne.Do(func() {
			a.cameraBtn.Enable()
			if err != nil {
				a.statusLabel.SetText(err.Error())
				dialog.ShowError(err, a.mainWin)
			}
		})
	}()
}

func (a *PoseApp) onResize(w, h int) {
	fyne.Do(func() {
		a.videoCanvas.SetMinSize(fyne.NewSize(float32(w), float32(h)))
	})
}

func (a *PoseApp) onClear() {
	fyne.Do(func() {
		a.videoCanvas.Image = nil
		a.videoCanvas.Refresh()
		a.poseLabel.SetText(processing.NoPersonLabel)
	})
}

func (a *PoseApp) onCameraChange(active bool) {
	fyne.Do(func() {
		if active {
			a.cameraBtn.SetText("Stop Camera")
			a.cameraBtn.SetIcon(theme.MediaStopIcon())
			a.sessionControls.Show()
			return
		}
		a.cameraBtn.SetText("Start Camera")
		a.cameraBtn.SetIcon(theme.MediaVideoIcon())
		a.sessionControls.Hide()
	})

	// nothing is recorded without frames
	if !active && a.session.Active() {
		go a.endSession()
	}
}

func (a *PoseApp) onSessionChange(active bool) {
	fyne.Do(func() {
		if active {
			a.startBtn.Disable()
			a.endBtn.Enable()
			a.reportLink.Hide()
			a.saveReportBtn.Hide()
			return
		}
		a.startBtn.Enable()
		a.endBtn.Disable()
	})
}

func (a *PoseApp) setupSessionControls() {
	a.startBtn = widget.NewButtonWithIcon("Start Session", theme.MediaRecordIcon(), func() {
		go a.startSession()
	})
	a.endBtn = widget.NewButtonWithIcon("End Session", theme.MediaStopIcon(), func() {
		go a.endSession()
	})
	a.endBtn.Disable()

	a.reportLink = widget.NewHyperlink("Download report", nil)
	a.reportLink.Hide()

	a.saveReportBtn = widget.NewButtonWithIcon("Save report", theme.DocumentSaveIcon(), a.saveReport)
	a.saveReportBtn.Hide()

	a.sessionControls = container.NewVBox(
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Session", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		container.NewGridWithColumns(2, a.startBtn, a.endBtn),
		a.reportLink,
		a.saveReportBtn,
	)
	a.sessionControls.Hide()
}

func (a *PoseApp) startSession() {
	resp := a.session.Start(context.Background(), a.config.GetUserName())
	if resp.Status == models.StatusInfo {
		a.setStatus(resp.Message)
	}
}

func (a *PoseApp) endSession() {
	resp := a.session.End(context.Background())
	if resp.Status == models.StatusInfo {
		a.setStatus(resp.Message)
		return
	}

	link := a.session.ReportURL()
	if link == "" {
		return
	}
	u, err := url.Parse(link)
	if err != nil {
		log.Warn().Err(err).Str("url", link).Msg("invalid report url")
		return
	}

	fyne.Do(func() {
		a.reportLink.SetURL(u)
		a.reportLink.Show()
		a.saveReportBtn.Show()
		if resp.PointsAwarded > 0 {
			a.statusLabel.SetText(fmt.Sprintf("%s (+%d points)", resp.Message, resp.PointsAwarded))
		}
	})
}

func (a *PoseApp) saveReport() {
	d := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.mainWin)
			return
		}
		if w == nil {
			return
		}

		go func() {
			defer w.Close()

			n, err := a.client.DownloadReport(context.Background(), w)
			fyne.Do(func() {
				if err != nil {
					dialog.ShowError(err, a.mainWin)
					return
				}
				a.statusLabel.SetText(fmt.Sprintf("Report saved to %s (%d bytes)", w.URI().Path(), n))
			})
		}()
	}, a.mainWin)

	d.SetFileName(reportFileName)
	d.Show()
}

func (a *PoseApp) runStatLoop() {
	uiTicker := time.NewTicker(time.Millisecond * 200)
	defer uiTicker.Stop()

	for {
		select {
		case <-uiTicker.C:
			fps, latency := a.processor.Stats()
			fyne.Do(func() {
				a.latencyLabel.SetText(a.formatLatency(latency))
				a.fpsLabel.SetText(a.formatFPS(fps))
			})
		case <-a.quit:
			return
		}
	}
}

func (a *PoseApp) formatFPS(v uint) string {
	return fmt.Sprintf("FPS: %d", v)
}

func (a *PoseApp) formatLatency(v time.Duration) string {
	return fmt.Sprintf("Latency: %d ms", v.Milliseconds())
}

func formatPose(out processing.Output) string {
	if !out.PersonDetected {
		return processing.NoPersonLabel
	}
	return fmt.Sprintf("Pose: %s (%.0f%%)", out.Label, out.Confidence*100)
}

func (a *PoseApp) runPlayerLoop() {
	displayFPS := time.Duration(a.config.GetFPS())
	if displayFPS == 0 {
		displayFPS = 1
	}
	displayTicker := time.NewTicker(time.Second / displayFPS)
	defer displayTicker.Stop()

	var (
		lastFrame image.Image
		lastPose  string
	)

	for {
		select {
		case out := <-a.processor.OutImageStream:
			if out.Image != nil {
				lastFrame = out.Image
				lastPose = formatPose(out)
			}

		case <-displayTicker.C:
			if lastFrame != nil {
				frame, pose := lastFrame, lastPose
				fyne.Do(func() {
					a.videoCanvas.Image = frame
					a.videoCanvas.Refresh()
					a.poseLabel.SetText(pose)
				})
				lastFrame = nil
			}

		case err := <-a.processor.ErrChan:
			fyne.Do(func() {
				a.statusLabel.SetText("Camera error: " + err.Error())
				dialog.ShowError(err, a.mainWin)
			})

		case <-a.quit:
			return
		}
	}
}

func (a *PoseApp) setupConfigSettings() {
	a.staticSettings = container.NewVBox()

	fpsInput := cwidget.NewIntInput(
		"FPS",
		"Enter integer",
		int(a.config.GetFPS()),
		func(i int) {
			a.config.SetFPS(uint(i))
		},
	)

	widthInput := cwidget.NewIntInput(
		"Width",
		"Enter integer",
		a.config.GetWidth(),
		func(i int) {
			a.config.SetWidth(i)
		},
	)

	heightInput := cwidget.NewIntInput(
		"Height",
		"Enter integer",
		a.config.GetHeight(),
		func(i int) {
			a.config.SetHeight(i)
		},
	)

	flushInput := cwidget.NewIntInput(
		"Flush interval (ms)",
		"Enter integer",
		int(a.config.GetFlushInterval()/time.Millisecond),
		func(i int) {
			d := time.Duration(i) * time.Millisecond
			a.config.SetFlushInterval(d)
			a.session.SetFlushInterval(d)
		},
	)

	userEntry := widget.NewEntry()
	userEntry.SetPlaceHolder("User name")
	userEntry.SetText(a.config.GetUserName())
	userEntry.OnChanged = func(s string) {
		a.config.SetUserName(s)
	}

	saveCfg := widget.NewButtonWithIcon("Save config", theme.DocumentSaveIcon(), func() {
		if err := a.config.Save(a.config.Path()); err != nil {
			dialog.ShowError(err, a.mainWin)
			return
		}
		a.statusLabel.SetText("Configuration saved")
	})

	a.staticSettings.Add(widget.NewLabel("User:"))
	a.staticSettings.Add(userEntry)
	a.staticSettings.Add(fpsInput)
	a.staticSettings.Add(widthInput)
	a.staticSettings.Add(heightInput)
	a.staticSettings.Add(flushInput)

	a.staticSettings.Add(saveCfg)
}

func (a *PoseApp) refreshSettingsUI(sourceType string) {
	a.dynamicSettings.Objects = nil
	go a.camera.Disable()

	switch config.SourceType(sourceType) {
	case config.SourceLocal:
		pathEntry := widget.NewEntry()
		pathEntry.SetPlaceHolder("/path/to/video.mp4")
		pathEntry.SetText(a.config.GetLocalPath())

		pathEntry.OnChanged = func(s string) {
			a.config.SetLocalPath(s)
		}

		fileBtn := widget.NewButtonWithIcon("Open File", theme.FolderOpenIcon(), func() {
			dialog.ShowFileOpen(func(reader fyne.URIReadCloser, err error) {
				if err == nil && reader != nil {
					path := reader.URI().Path()
					reader.Close()
					pathEntry.SetText(path)
				}
			}, a.mainWin)
		})

		a.dynamicSettings.Add(widget.NewLabel("Video Path:"))
		a.dynamicSettings.Add(container.NewBorder(nil, nil, nil, fileBtn, pathEntry))

	case config.SourceWebcam:
		deviceSelect := widget.NewSelect([]string{"Loading cameras..."}, func(s string) {
			if s != "Loading cameras..." && s != "No cameras found" {
				a.config.SetWebcamDevice(s)
			}
		})
		deviceSelect.SetSelected("Loading cameras...")
		deviceSelect.Disable()

		mirrorCheck := widget.NewCheck("Mirror image", func(b bool) {
			a.config.SetMirror(b)
		})
		mirrorCheck.SetChecked(a.config.GetWebcam().Mirror)

		a.dynamicSettings.Add(widget.NewLabel("Select Camera:"))
		a.dynamicSettings.Add(deviceSelect)
		a.dynamicSettings.Add(mirrorCheck)
		a.dynamicSettings.Refresh()

		go func() {
			devices, err := capture.ListCameras()

			fyne.Do(func() {
				if err != nil {
					dialog.ShowError(err, a.mainWin)
					deviceSelect.Options = []string{"Error listing cameras"}
				} else if len(devices) == 0 {
					deviceSelect.Options = []string{"No cameras found"}
				} else {
					deviceSelect.Options = devices
					deviceSelect.Enable()

					if id := a.config.GetWebcam().DeviceID; id != "" {
						deviceSelect.SetSelected(id)
					} else {
						deviceSelect.SetSelected(devices[0])
					}
				}
				deviceSelect.Refresh()
			})
		}()

	case config.SourceOpenCV:
		indexInput := cwidget.NewIntInput(
			"Device index",
			"Enter integer",
			a.config.GetOpenCVDevice()+1,
			func(i int) {
				a.config.SetOpenCVDevice(i - 1)
			},
		)

		a.dynamicSettings.Add(widget.NewLabel("OpenCV camera (1 = first device):"))
		a.dynamicSettings.Add(indexInput)
	}

	a.dynamicSettings.Refresh()
}

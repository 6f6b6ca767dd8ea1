package processing

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	RunningModeVideo = "VIDEO"

	defaultDetectTimeout = 2 * time.Second
	jpegQuality          = 80
)

var (
	ErrNotLoaded = errors.New("pose model not loaded")
	ErrModelLoad = errors.New("pose model load failed")
)

// Detector runs pose estimation on a single frame. timestampMs must grow
// strictly between calls.
type Detector interface {
	Detect(ctx context.Context, img image.Image, timestampMs int64) (models.PoseResult, error)
}

type DetectorOptions struct {
	ModelAssetPath string
	NumPoses       int
}

type loadMessage struct {
	Type           string `json:"type"`
	ModelAssetPath string `json:"model_asset_path"`
	RunningMode    string `json:"running_mode"`
	NumPoses       int    `json:"num_poses"`
}

type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// RemoteDetector talks to a pose inference service over a websocket. Frames
// go out as a big-endian millisecond timestamp followed by a JPEG; each is
// answered with one JSON PoseResult.
type RemoteDetector struct {
	serverURL string
	opts      DetectorOptions
	dialer    *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	loaded bool
}

func NewRemoteDetector(host string, opts DetectorOptions) *RemoteDetector {
	u := url.URL{Scheme: "ws", Host: host, Path: "/pose"}
	return newRemoteDetector(u.String(), opts)
}

func newRemoteDetector(serverURL string, opts DetectorOptions) *RemoteDetector {
	if opts.NumPoses <= 0 {
		opts.NumPoses = 1
	}
	return &RemoteDetector{
		serverURL: serverURL,
		opts:      opts,
		dialer:    websocket.DefaultDialer,
	}
}

// Load connects to the service and asks it to prepare the model in video
// mode. It returns once the service reports the model ready.
func (d *RemoteDetector) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked(ctx)
}

func (d *RemoteDetector) loadLocked(ctx context.Context) error {
	d.closeLocked()

	log.Info().Str("url", d.serverURL).Str("model", d.opts.ModelAssetPath).Msg("loading pose model")

	conn, _, err := d.dialer.DialContext(ctx, d.serverURL, nil)
	if err != nil {
		return errors.Wrapf(err, "connect to pose service %s", d.serverURL)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}

	req := loadMessage{
		Type:           "load",
		ModelAssetPath: d.opts.ModelAssetPath,
		RunningMode:    RunningModeVideo,
		NumPoses:       d.opts.NumPoses,
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return errors.Wrap(err, "send load request")
	}

	var reply controlMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return errors.Wrap(err, "read load reply")
	}

	switch reply.Type {
	case "ready":
	case "error":
		conn.Close()
		return errors.Wrap(ErrModelLoad, reply.Message)
	default:
		conn.Close()
		return errors.Wrapf(ErrModelLoad, "unexpected reply %q", reply.Type)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	d.conn = conn
	d.loaded = true
	log.Info().Msg("pose model ready")
	return nil
}

func (d *RemoteDetector) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Detect sends one frame and waits for its landmarks. A dropped connection
// is re-established on the next call.
func (d *RemoteDetector) Detect(ctx context.Context, img image.Image, timestampMs int64) (models.PoseResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		return models.PoseResult{}, ErrNotLoaded
	}
	if d.conn == nil {
		if err := d.loadLocked(ctx); err != nil {
			return models.PoseResult{}, errors.Wrap(err, "reconnect")
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDetectTimeout)
	}

	msg, err := encodeFrame(img, timestampMs)
	if err != nil {
		return models.PoseResult{}, err
	}

	d.conn.SetWriteDeadline(deadline)
	if err := d.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		d.dropLocked(err)
		return models.PoseResult{}, errors.Wrap(err, "send frame")
	}

	d.conn.SetReadDeadline(deadline)
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			d.dropLocked(err)
			return models.PoseResult{}, errors.Wrap(err, "read result")
		}

		var res models.PoseResult
		if err := json.Unmarshal(data, &res); err != nil {
			return models.PoseResult{}, errors.Wrap(err, "decode result")
		}

		// replies to frames that timed out earlier
		if res.TimestampMs < timestampMs {
			continue
		}
		return res, nil
	}
}

func (d *RemoteDetector) dropLocked(err error) {
	log.Warn().Err(err).Msg("pose service connection lost")
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *RemoteDetector) closeLocked() {
	if d.conn != nil {
		d.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		d.conn.Close()
		d.conn = nil
	}
}

func (d *RemoteDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	d.loaded = false
}

func encodeFrame(img image.Image, timestampMs int64) ([]byte, error) {
	var buf bytes.Buffer
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(timestampMs))
	buf.Write(header[:])

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}
	return buf.Bytes(), nil
}

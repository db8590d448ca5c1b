package thread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrollRestoreByAnchorDelta(t *testing.T) {
	vp := &fakeViewport{firstVisible: "m5"}
	vp.metricsFn = func(call int, _ string) (ViewportMetrics, error) {
		switch call {
		case 1:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 120, ScrollTop: 40, ScrollHeight: 2000}, nil
		case 2:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 920, ScrollTop: 40, ScrollHeight: 2800}, nil
		default:
			// Контрольный замер после установки.
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 120, ScrollTop: 840, ScrollHeight: 2800}, nil
		}
	}
	sp := NewScrollPreserver(vp, 5)

	anchor, err := sp.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m5", anchor.MessageID)

	sp.Restore(context.Background(), anchor)
	require.Len(t, vp.scrollTops, 1)
	assert.Equal(t, 840.0, vp.scrollTops[0])
}

func TestScrollRestoreFallsBackToHeightGrowth(t *testing.T) {
	vp := &fakeViewport{firstVisible: "m5"}
	vp.metricsFn = func(call int, _ string) (ViewportMetrics, error) {
		switch call {
		case 1:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 120, ScrollTop: 40, ScrollHeight: 2000}, nil
		case 2:
			// Якорь не отрендерился, но документ вырос.
			return ViewportMetrics{AnchorFound: false, ScrollHeight: 2800}, nil
		default:
			return ViewportMetrics{AnchorFound: false, ScrollTop: 840, ScrollHeight: 2800}, nil
		}
	}
	sp := NewScrollPreserver(vp, 5)

	anchor, err := sp.Capture(context.Background())
	require.NoError(t, err)

	sp.Restore(context.Background(), anchor)
	require.Len(t, vp.scrollTops, 1)
	assert.Equal(t, 840.0, vp.scrollTops[0])
}

func TestScrollRestoreRetriesInWebView(t *testing.T) {
	vp := &fakeViewport{firstVisible: "m5", embedded: true}
	vp.metricsFn = func(call int, _ string) (ViewportMetrics, error) {
		switch {
		case call == 1:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 120, ScrollTop: 40, ScrollHeight: 2000}, nil
		case call <= 3:
			// Рендер ещё не догнал: ни якоря, ни прироста высоты.
			return ViewportMetrics{AnchorFound: false, ScrollHeight: 2000}, nil
		case call == 4:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 920, ScrollTop: 40, ScrollHeight: 2800}, nil
		default:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 920, ScrollTop: 840, ScrollHeight: 2800}, nil
		}
	}
	sp := NewScrollPreserver(vp, 5)

	anchor, err := sp.Capture(context.Background())
	require.NoError(t, err)

	sp.Restore(context.Background(), anchor)
	require.Len(t, vp.scrollTops, 1)
	assert.Equal(t, 840.0, vp.scrollTops[0])
	// Между повторами вьюпорт принудительно перерисовывался.
	assert.GreaterOrEqual(t, vp.reflows, 2)
}

func TestScrollRestoreReappliesAfterWebViewResettle(t *testing.T) {
	vp := &fakeViewport{firstVisible: "m5", embedded: true}
	vp.metricsFn = func(call int, _ string) (ViewportMetrics, error) {
		switch call {
		case 1:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 120, ScrollTop: 40, ScrollHeight: 2000}, nil
		case 2:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 920, ScrollTop: 40, ScrollHeight: 2800}, nil
		case 3:
			// Вебвью пересчитал раскладку после установки и сбросил позицию.
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 920, ScrollTop: 0, ScrollHeight: 2800}, nil
		case 4:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 920, ScrollTop: 0, ScrollHeight: 2800}, nil
		default:
			return ViewportMetrics{AnchorFound: true, AnchorOffset: 920, ScrollTop: 800, ScrollHeight: 2800}, nil
		}
	}
	sp := NewScrollPreserver(vp, 5)

	anchor, err := sp.Capture(context.Background())
	require.NoError(t, err)

	sp.Restore(context.Background(), anchor)
	// Первая установка не удержалась, вторая пересчитана от фактической позиции.
	require.Len(t, vp.scrollTops, 2)
	assert.Equal(t, 840.0, vp.scrollTops[0])
	assert.Equal(t, 800.0, vp.scrollTops[1])
}

func TestScrollRestoreNoAnchorIsNoop(t *testing.T) {
	vp := &fakeViewport{}
	sp := NewScrollPreserver(vp, 5)
	sp.Restore(context.Background(), ScrollAnchor{})
	assert.Empty(t, vp.scrollTops)
}

func TestNearBottom(t *testing.T) {
	vp := &fakeViewport{metrics: ViewportMetrics{BottomGap: 250}}
	assert.True(t, NearBottom(context.Background(), vp, 300))

	vp2 := &fakeViewport{metrics: ViewportMetrics{BottomGap: 900}}
	assert.False(t, NearBottom(context.Background(), vp2, 300))
}

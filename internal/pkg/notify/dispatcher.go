package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"toytracker/internal/pkg/metrics"
)

var (
	// ErrDispatcherFull 待发送通知已满，本次通知被丢弃。
	ErrDispatcherFull = errors.New("notification queue full")
	// ErrDispatcherClosed 分发器已关闭。
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

// DispatcherStats 分发器统计快照。
type DispatcherStats struct {
	Queued  int64
	Sent    int64
	Failed  int64
	Dropped int64
	Panics  int64
}

// Dispatcher 把降价通知放入内存队列，由固定数量的 worker 异步发送，
// 入库流程不必等待 SMTP 往返。
type Dispatcher struct {
	next         Notifier
	logger       *slog.Logger
	jobs         chan PriceDrop
	sendTimeout  time.Duration
	closeTimeout time.Duration

	// mu 保证入队与关闭通道互斥，closed 只在持有写锁时修改
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc

	queued  atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
	panics  atomic.Int64
}

// NewDispatcher 创建并启动分发器。
//
// 参数:
//   - next: 实际发送通知的实现
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func NewDispatcher(next Notifier, logger *slog.Logger, workers, capacity int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		next:         next,
		logger:       logger,
		jobs:         make(chan PriceDrop, capacity),
		sendTimeout:  30 * time.Second,
		closeTimeout: time.Minute,
		cancel:       cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	return d
}

// NotifyPriceDrop 非阻塞入队。队列已满返回 ErrDispatcherFull。
func (d *Dispatcher) NotifyPriceDrop(_ context.Context, drop PriceDrop) error {
	if drop.Product == nil {
		return fmt.Errorf("price drop without product")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	// 入队的是商品副本，调用方之后的修改不影响邮件内容
	product := *drop.Product
	drop.Product = &product

	select {
	case d.jobs <- drop:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		metrics.PriceDropNotificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("notification queue full, drop price drop",
			slog.String("product_id", product.ProductID),
			slog.Int("capacity", cap(d.jobs)))
		return ErrDispatcherFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for drop := range d.jobs {
		d.send(ctx, drop, id)
	}
}

func (d *Dispatcher) send(ctx context.Context, drop PriceDrop, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("notification panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.next.NotifyPriceDrop(sendCtx, drop); err != nil {
		d.failed.Add(1)
		metrics.PriceDropNotificationsTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("send price drop notification failed",
			slog.Int("worker_id", workerID),
			slog.String("product_id", drop.Product.ProductID),
			slog.String("error", err.Error()))
		return
	}
	d.sent.Add(1)
	metrics.PriceDropNotificationsTotal.WithLabelValues("sent").Inc()
}

// Close 停止接收新通知并等待已入队的通知发送完毕，超时后放弃剩余通知。
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-time.After(d.closeTimeout):
		d.cancel()
		return fmt.Errorf("notification dispatcher close timeout after %s", d.closeTimeout)
	}
}

// Stats 返回统计快照。
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:  d.queued.Load(),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Panics:  d.panics.Load(),
	}
}
